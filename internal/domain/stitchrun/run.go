package stitchrun

import (
	"time"

	"github.com/duragraph/duragraph/internal/pkg/errors"
	pkguuid "github.com/duragraph/duragraph/internal/pkg/uuid"
)

// Trigger records what caused a run to start.
type Trigger struct {
	Type      string    `json:"type"` // e.g. "manual", "webhook", "schedule"
	Source    string    `json:"source,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Run is one execution instance of a flow version, per spec.md §3.
//
// Unlike the teacher's event-sourced run.Run aggregate, Run is a plain
// projection: the Store interface in spec.md §6 is already a CRUD contract
// (updateNodeState/updateNodeStates are atomic per-row operations, not an
// event log), so there is nothing to replay.
type Run struct {
	ID            string
	FlowVersionID string
	EntityID      string // empty means no attached entity
	Trigger       Trigger
	NodeStates    map[string]NodeState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New creates a new Run with every entry node marked pending, per spec.md
// §4.4 startRun.
func New(flowVersionID string, trigger Trigger, entityID string, entryNodes []string) (*Run, error) {
	if flowVersionID == "" {
		return nil, errors.InvalidInput("flow_version_id", "flow_version_id is required")
	}
	now := time.Now()
	states := make(map[string]NodeState, len(entryNodes))
	for _, id := range entryNodes {
		states[id] = NodeState{Status: NodeStatusPending}
	}
	return &Run{
		ID:            pkguuid.New(),
		FlowVersionID: flowVersionID,
		EntityID:      entityID,
		Trigger:       trigger,
		NodeStates:    states,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// AggregateStatus derives the run's overall status per spec.md §3: failed if
// any node is failed and every reachable node has reached a terminal state;
// completed if every node present in node_states has reached a terminal
// state and none failed; running otherwise.
func (r *Run) AggregateStatus() RunStatus {
	sawFailed := false
	for _, st := range r.NodeStates {
		if !st.Status.IsTerminal() {
			return RunStatusRunning
		}
		if st.Status == NodeStatusFailed {
			sawFailed = true
		}
	}
	if sawFailed {
		return RunStatusFailed
	}
	return RunStatusCompleted
}
