// Package store defines the abstract persistence contract the engine
// consumes (spec.md §6), and its implementations: a pgx-backed Postgres
// store for production and an in-memory store for unit tests.
package store

import (
	"context"
	"time"

	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
)

// WaitingNode identifies one node sitting in waiting_for_user, for the
// UX-timeout sweeper (spec.md §5).
type WaitingNode struct {
	RunID  string
	NodeID string
	Since  time.Time
}

// Store is the engine's only collaborator for durable state. Every method
// is safe for concurrent use; per-node updates are atomic compare-and-set
// operations keyed by (runId, nodeId).
type Store interface {
	// GetFlowVersion loads a compiled, immutable execution graph by version id.
	GetFlowVersion(ctx context.Context, versionID string) (*stitchgraph.ExecutionGraph, error)

	// CreateRun persists a new run and returns it.
	CreateRun(ctx context.Context, versionID string, trigger stitchrun.Trigger, entityID string, entryNodes []string) (*stitchrun.Run, error)

	// GetRun loads a run by id.
	GetRun(ctx context.Context, runID string) (*stitchrun.Run, error)

	// UpdateNodeState atomically writes state at (runID, nodeID). When expect
	// is non-nil, the write only applies if the node's current status equals
	// *expect; a mismatch returns ErrCASMismatch and leaves the row
	// untouched, implementing the at-most-once terminal transition rule of
	// spec.md §9.
	UpdateNodeState(ctx context.Context, runID, nodeID string, state stitchrun.NodeState, expect *stitchrun.NodeStatus) error

	// UpdateNodeStates atomically writes every (nodeID -> state) pair in one
	// transaction. Used by the Splitter handler to materialize all parallel
	// instances alongside the splitter's own completion in a single update.
	UpdateNodeStates(ctx context.Context, runID string, states map[string]stitchrun.NodeState) error

	// FinalizeRun records the run's aggregate status once no node remains
	// pending, running, or waiting_for_user.
	FinalizeRun(ctx context.Context, runID string, status stitchrun.RunStatus) error

	// ListWaitingSince returns every node currently in waiting_for_user whose
	// NodeState.UpdatedAt is at or before cutoff, for the UX-timeout sweeper.
	ListWaitingSince(ctx context.Context, cutoff time.Time) ([]WaitingNode, error)
}

// FlowRepository persists flows and their immutable compiled versions — a
// supplemented feature beyond spec.md §6's abstract Store (see SPEC_FULL.md
// §6), backing the "auto-versions the canvas if the caller supplied a
// visual graph that differs from the current version" rule of spec.md §6's
// Run Start endpoint.
type FlowRepository interface {
	// CurrentVersion returns the flow's current version id and the content
	// hash it was compiled from. ok is false if the flow has no version yet.
	CurrentVersion(ctx context.Context, flowID string) (versionID string, hash string, ok bool, err error)

	// CreateVersion persists a new immutable version for flowID and makes it
	// current; graph becomes retrievable via Store.GetFlowVersion(versionID).
	CreateVersion(ctx context.Context, flowID, hash string, visual stitchgraph.VisualGraph, graph *stitchgraph.ExecutionGraph) (versionID string, err error)
}

// ErrCASMismatch is returned by UpdateNodeState when expect does not match
// the node's current status; callers treat this as a no-op, not an error to
// surface to the caller of advance().
var ErrCASMismatch = &casMismatchError{}

type casMismatchError struct{}

func (*casMismatchError) Error() string { return "node state compare-and-set mismatch" }
