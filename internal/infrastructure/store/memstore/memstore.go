// Package memstore is an in-memory store.Store used by the engine unit
// tests. It implements the same
// compare-and-set semantics as the Postgres store, guarded by a mutex
// instead of a row-level transaction.
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/duragraph/duragraph/internal/domain/entity"
	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/duragraph/duragraph/internal/infrastructure/store"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// EntityMove records one call to MoveToSection, for assertions in tests that
// exercise entity-movement side effects.
type EntityMove struct {
	EntityID   string
	SectionID  string
	CompleteAs string
	Meta       map[string]interface{}
	SetType    string
}

type flowHead struct {
	versionID string
	hash      string
}

// Store is an in-memory, mutex-guarded store.Store and store.FlowRepository.
type Store struct {
	mu       sync.Mutex
	versions map[string]*stitchgraph.ExecutionGraph
	runs     map[string]*stitchrun.Run
	flows    map[string]flowHead
	nextVer  int
	Moves    []EntityMove
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		versions: make(map[string]*stitchgraph.ExecutionGraph),
		runs:     make(map[string]*stitchrun.Run),
		flows:    make(map[string]flowHead),
	}
}

// PutFlowVersion registers a compiled graph for later GetFlowVersion calls;
// test setup helper, not part of store.Store.
func (s *Store) PutFlowVersion(versionID string, graph *stitchgraph.ExecutionGraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[versionID] = graph
}

func (s *Store) GetFlowVersion(ctx context.Context, versionID string) (*stitchgraph.ExecutionGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.versions[versionID]
	if !ok {
		return nil, errors.NotFound("flow_version", versionID)
	}
	return g, nil
}

func (s *Store) CreateRun(ctx context.Context, versionID string, trigger stitchrun.Trigger, entityID string, entryNodes []string) (*stitchrun.Run, error) {
	run, err := stitchrun.New(versionID, trigger, entityID, entryNodes)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return cloneRun(run), nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*stitchrun.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, errors.NotFound("run", runID)
	}
	return cloneRun(run), nil
}

func (s *Store) UpdateNodeState(ctx context.Context, runID, nodeID string, state stitchrun.NodeState, expect *stitchrun.NodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.NotFound("run", runID)
	}
	if expect != nil {
		// A node absent from NodeStates has never been touched and is
		// conceptually still pending (Run.New only seeds entry nodes;
		// every other node is a sparse, lazily-materialized entry) — so an
		// absent key satisfies an expected pending just like a literal one.
		cur, exists := run.NodeStates[nodeID]
		curStatus := stitchrun.NodeStatusPending
		if exists {
			curStatus = cur.Status
		}
		if curStatus != *expect {
			return store.ErrCASMismatch
		}
	}
	run.NodeStates[nodeID] = state
	return nil
}

func (s *Store) UpdateNodeStates(ctx context.Context, runID string, states map[string]stitchrun.NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.NotFound("run", runID)
	}
	for id, st := range states {
		run.NodeStates[id] = st
	}
	return nil
}

func (s *Store) FinalizeRun(ctx context.Context, runID string, status stitchrun.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[runID]
	if !ok {
		return errors.NotFound("run", runID)
	}
	// Aggregate status is derived on read (Run.AggregateStatus); FinalizeRun
	// is a no-op marker here, kept to match the store.Store contract used by
	// the Postgres implementation's status/finalized_at column.
	return nil
}

func (s *Store) ListWaitingSince(ctx context.Context, cutoff time.Time) ([]store.WaitingNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var waiting []store.WaitingNode
	for runID, run := range s.runs {
		for nodeID, st := range run.NodeStates {
			if st.Status == stitchrun.NodeStatusWaitingForUser && !st.UpdatedAt.After(cutoff) {
				waiting = append(waiting, store.WaitingNode{RunID: runID, NodeID: nodeID, Since: st.UpdatedAt})
			}
		}
	}
	return waiting, nil
}

// MoveToSection implements entity.Mover, letting tests pass a *Store
// directly as the engine's Mover collaborator and assert against s.Moves.
func (s *Store) MoveToSection(ctx context.Context, entityID, sectionID, completeAs string, meta map[string]interface{}, setType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Moves = append(s.Moves, EntityMove{
		EntityID: entityID, SectionID: sectionID, CompleteAs: completeAs, Meta: meta, SetType: setType,
	})
	return nil
}

func (s *Store) CurrentVersion(ctx context.Context, flowID string) (string, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.flows[flowID]
	if !ok {
		return "", "", false, nil
	}
	return head.versionID, head.hash, true, nil
}

func (s *Store) CreateVersion(ctx context.Context, flowID, hash string, visual stitchgraph.VisualGraph, graph *stitchgraph.ExecutionGraph) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVer++
	versionID := flowID + "-v" + strconv.Itoa(s.nextVer)
	s.versions[versionID] = graph
	s.flows[flowID] = flowHead{versionID: versionID, hash: hash}
	return versionID, nil
}

var (
	_ store.Store          = (*Store)(nil)
	_ store.FlowRepository = (*Store)(nil)
	_ entity.Mover         = (*Store)(nil)
)

func cloneRun(r *stitchrun.Run) *stitchrun.Run {
	clone := *r
	clone.NodeStates = make(map[string]stitchrun.NodeState, len(r.NodeStates))
	for id, st := range r.NodeStates {
		clone.NodeStates[id] = st.Clone()
	}
	return &clone
}
