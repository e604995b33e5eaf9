// Package engine implements the stateless edge walker of spec.md §4.4:
// StartRun and Advance. The engine holds no long-lived state of its own —
// every call reads the run and its compiled ExecutionGraph from Store and
// writes back through Store's atomic per-node operations, so a restart
// between any two calls loses no progress (spec.md §5).
//
// Grounded on the teacher's internal/infrastructure/graph/engine.go
// (executePlan/getNextNodes/areDependenciesSatisfied), rebuilt around
// per-event re-entrancy instead of an internal work queue, and on the
// parallel-instance id algebra in internal/domain/handler.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/duragraph/duragraph/internal/domain/entity"
	"github.com/duragraph/duragraph/internal/domain/handler"
	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/duragraph/duragraph/internal/infrastructure/monitoring"
	"github.com/duragraph/duragraph/internal/infrastructure/store"
	"github.com/duragraph/duragraph/internal/infrastructure/tracing"
	"github.com/duragraph/duragraph/internal/infrastructure/worker"
	"github.com/duragraph/duragraph/internal/pkg/eventbus"
)

// Engine wires the Store, the in-process worker registry, the webhook
// dispatcher, and the entity mover together into the edge walker.
type Engine struct {
	Store      store.Store
	Registry   *worker.Registry
	Dispatcher *worker.Dispatcher
	Mover      entity.Mover
	Events     *eventbus.EventBus
	Metrics    *monitoring.Metrics
	Tracer     *tracing.Provider
	BaseURL    string
}

// New constructs an Engine. events may be nil, in which case transitions are
// not published anywhere (useful for unit tests that don't care). metrics
// may also be nil, in which case no Prometheus metrics are recorded. The
// tracer is not a New argument: it is attached by WithTracer and may
// likewise stay nil (no spans). Engine treats all three collaborators as
// optional.
func New(st store.Store, reg *worker.Registry, disp *worker.Dispatcher, mover entity.Mover, events *eventbus.EventBus, metrics *monitoring.Metrics, baseURL string) *Engine {
	return &Engine{Store: st, Registry: reg, Dispatcher: disp, Mover: mover, Events: events, Metrics: metrics, BaseURL: baseURL}
}

// WithTracer attaches an optional tracing.Provider, returning e for chaining
// at construction time (e.g. engine.New(...).WithTracer(provider)).
func (e *Engine) WithTracer(tracer *tracing.Provider) *Engine {
	e.Tracer = tracer
	return e
}

// StartRun creates a run from versionID, marks every entry node pending,
// then activates each entry node directly with initialInput as its merged
// input (spec.md §4.4 entry point (i)).
func (e *Engine) StartRun(ctx context.Context, versionID string, trigger stitchrun.Trigger, entityID string, initialInput map[string]interface{}) (*stitchrun.Run, error) {
	graph, err := e.Store.GetFlowVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	run, err := e.Store.CreateRun(ctx, versionID, trigger, entityID, graph.Entry)
	if err != nil {
		return nil, err
	}
	e.publishRunEvent(ctx, run.ID, stitchrun.EventRunStarted, stitchrun.RunStatusRunning)
	if e.Metrics != nil {
		e.Metrics.RecordRunStarted(versionID)
	}

	entries := append([]string(nil), graph.Entry...)
	sort.Strings(entries)
	for _, id := range entries {
		if err := e.activate(ctx, graph, run, id, initialInput); err != nil {
			return nil, err
		}
	}
	if err := e.maybeFinalize(ctx, graph, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Advance is called after any state change that could unblock successors:
// a Worker callback, a UX complete, or (recursively, within the same call)
// a Splitter completion. It is safe to call repeatedly for the same
// (runID, from) — every successor activation checks pending-ness first.
func (e *Engine) Advance(ctx context.Context, runID, from string) error {
	run, err := e.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	graph, err := e.Store.GetFlowVersion(ctx, run.FlowVersionID)
	if err != nil {
		return err
	}

	fromPID := handler.ParseParallelID(from)
	fromNode, ok := graph.Nodes[fromPID.Base]
	if !ok {
		return nil
	}

	successors := append([]string(nil), graph.AdjOut[fromPID.Base]...)
	sort.Strings(successors)

	for _, s := range successors {
		sNode := graph.Nodes[s]
		var concreteIDs []string
		switch {
		case fromNode.Kind == stitchgraph.KindSplitter:
			// The Splitter handler already materialized s_0..s_{n-1} in one
			// atomic update; activate each in ascending index order.
			n := siblingCount(run.NodeStates, s)
			for i := 0; i < n; i++ {
				concreteIDs = append(concreteIDs, handler.SuffixedID(s, i))
			}
		case fromPID.IsSuffixed && sNode.Kind != stitchgraph.KindCollector:
			concreteIDs = []string{handler.SuffixedID(s, fromPID.Index)}
		default:
			concreteIDs = []string{s}
		}
		for _, cid := range concreteIDs {
			if err := e.activate(ctx, graph, run, cid, nil); err != nil {
				return err
			}
		}
	}

	return e.maybeFinalize(ctx, graph, run)
}

// activate tries to fire concreteID. overrideInput, when non-nil, is used
// verbatim as the merged input (the entry-node case from StartRun); nodes
// with upstreams compute their merged input from the run's current state.
func (e *Engine) activate(ctx context.Context, graph *stitchgraph.ExecutionGraph, run *stitchrun.Run, concreteID string, overrideInput map[string]interface{}) error {
	cur, exists := run.NodeStates[concreteID]
	if exists && cur.Status != stitchrun.NodeStatusPending {
		return nil
	}

	pid := handler.ParseParallelID(concreteID)
	node, ok := graph.Nodes[pid.Base]
	if !ok {
		return nil
	}

	ctx, span := e.Tracer.StartNodeSpan(ctx, run.ID, concreteID, string(node.Kind))
	defer span.End()

	if node.Kind == stitchgraph.KindCollector {
		return e.fireCollector(ctx, graph, run, node, concreteID)
	}

	mergedInput := overrideInput
	if mergedInput == nil {
		ready, failed, input := e.resolveAndMerge(graph, run, pid, node)
		if failed {
			pending := stitchrun.NodeStatusPending
			return e.transition(ctx, run, concreteID, string(node.Kind), stitchrun.NodeState{Status: stitchrun.NodeStatusFailed, Error: "Upstream failed"}, &pending)
		}
		if !ready {
			return nil
		}
		mergedInput = input
	}

	switch node.Kind {
	case stitchgraph.KindWorker:
		return e.fireWorker(ctx, run, node, concreteID, mergedInput)
	case stitchgraph.KindUX:
		return e.fireUX(ctx, run, concreteID, mergedInput)
	case stitchgraph.KindSplitter:
		return e.fireSplitter(ctx, graph, run, node, concreteID, mergedInput)
	case stitchgraph.KindSectionItem:
		pending := stitchrun.NodeStatusPending
		return e.transition(ctx, run, concreteID, string(node.Kind), stitchrun.NodeState{Status: stitchrun.NodeStatusCompleted, Output: mergedInput}, &pending)
	}
	return nil
}

// resolveAndMerge computes upstreams(s') per spec.md §4.4 step 2b-2e for a
// non-collector node and, if every upstream is ready, its merged input.
func (e *Engine) resolveAndMerge(graph *stitchgraph.ExecutionGraph, run *stitchrun.Run, pid handler.ParallelID, node stitchgraph.Node) (ready, failed bool, merged map[string]interface{}) {
	bases := graph.AdjIn[node.ID]
	mappings := make(map[string]map[string]string, len(bases))
	outputs := make(map[string]interface{}, len(bases))

	// A Splitter's direct downstream is seeded with its own array element as
	// a pending NodeState (handler.Split), since the splitter itself only
	// has one completed state holding the whole array. Prefer that seed
	// over the splitter's own output so each parallel instance is mapped
	// from its element, not from the full array every sibling shares.
	var seededOutput interface{}
	hasSeed := false
	if pid.IsSuffixed {
		if cur, ok := run.NodeStates[pid.Render()]; ok && cur.Status == stitchrun.NodeStatusPending && cur.Output != nil {
			seededOutput, hasSeed = cur.Output, true
		}
	}

	anyFailed := false
	anyNotReady := false
	for _, u := range bases {
		concreteUpstream := u
		if pid.IsSuffixed {
			if _, ok := run.NodeStates[handler.SuffixedID(u, pid.Index)]; ok {
				concreteUpstream = handler.SuffixedID(u, pid.Index)
			}
		}
		st, ok := run.NodeStates[concreteUpstream]
		if !ok {
			anyNotReady = true
			continue
		}
		if st.Status == stitchrun.NodeStatusFailed {
			anyFailed = true
			continue
		}
		if !st.Status.HasOutput() {
			anyNotReady = true
			continue
		}
		mappings[u] = graph.Mapping(u, node.ID)
		outputs[u] = st.Output
		if hasSeed {
			outputs[u] = seededOutput
		}
	}

	if anyFailed {
		return false, true, nil
	}
	if anyNotReady {
		return false, false, nil
	}
	return true, false, handler.MergeInput(mappings, outputs, node.InputSchema())
}

func (e *Engine) transition(ctx context.Context, run *stitchrun.Run, nodeID, kind string, state stitchrun.NodeState, expect *stitchrun.NodeStatus) error {
	state.UpdatedAt = time.Now()
	if err := e.Store.UpdateNodeState(ctx, run.ID, nodeID, state, expect); err != nil {
		if err == store.ErrCASMismatch {
			return nil
		}
		return err
	}
	run.NodeStates[nodeID] = state
	eventType := stitchrun.EventNodeStarted
	switch state.Status {
	case stitchrun.NodeStatusCompleted:
		eventType = stitchrun.EventNodeCompleted
	case stitchrun.NodeStatusFailed:
		eventType = stitchrun.EventNodeFailed
	}
	e.publishNodeEvent(ctx, run.ID, nodeID, eventType, state)
	if e.Metrics != nil {
		e.Metrics.RecordNodeTransition(kind, string(state.Status), 0)
	}
	return nil
}

// maybeFinalize records the run's aggregate status once no node remains in
// a non-terminal state (spec.md §4.4 step 3). A graph terminal node that was
// never reached at all (e.g. a Collector downstream of an empty-array
// Splitter, spec.md §9's open question) has no entry in run.NodeStates yet
// and must still block finalization — otherwise path-totality (spec.md §8
// invariant 9) would be violated by a "completed" run whose terminal node
// never fired.
func (e *Engine) maybeFinalize(ctx context.Context, graph *stitchgraph.ExecutionGraph, run *stitchrun.Run) error {
	for _, st := range run.NodeStates {
		if !st.Status.IsTerminal() {
			return nil
		}
	}
	for _, id := range graph.Terminal {
		if !terminalReached(run.NodeStates, id) {
			return nil
		}
	}
	status := run.AggregateStatus()
	if err := e.Store.FinalizeRun(ctx, run.ID, status); err != nil {
		return err
	}
	eventType := stitchrun.EventRunCompleted
	if status == stitchrun.RunStatusFailed {
		eventType = stitchrun.EventRunFailed
	}
	e.publishRunEvent(ctx, run.ID, eventType, status)
	if e.Metrics != nil {
		e.Metrics.RecordRunFinished(string(status), time.Since(run.CreatedAt))
	}
	return nil
}

// terminalReached reports whether base's terminal node has actually fired at
// least once: either the bare id is present, or at least one of its
// parallel-suffixed siblings is. A base with zero matching entries has not
// been reached yet, regardless of how many other nodes in the run have
// reached a terminal state.
func terminalReached(states map[string]stitchrun.NodeState, base string) bool {
	if _, ok := states[base]; ok {
		return true
	}
	for id := range states {
		if p := handler.ParseParallelID(id); p.Base == base && p.IsSuffixed {
			return true
		}
	}
	return false
}

func siblingCount(states map[string]stitchrun.NodeState, base string) int {
	max := -1
	for id := range states {
		p := handler.ParseParallelID(id)
		if p.Base == base && p.IsSuffixed && p.Index > max {
			max = p.Index
		}
	}
	return max + 1
}

func (e *Engine) publishNodeEvent(ctx context.Context, runID, nodeID, eventType string, state stitchrun.NodeState) {
	if e.Metrics != nil {
		e.Metrics.RecordEventPublished(eventType)
	}
	if e.Events == nil {
		return
	}
	_ = e.Events.Publish(ctx, stitchrun.NodeEvent{Type: eventType, RunID: runID, NodeID: nodeID, Status: state.Status, Error: state.Error, Timestamp: time.Now()})
}

func (e *Engine) publishRunEvent(ctx context.Context, runID, eventType string, status stitchrun.RunStatus) {
	if e.Metrics != nil {
		e.Metrics.RecordEventPublished(eventType)
	}
	if e.Events == nil {
		return
	}
	_ = e.Events.Publish(ctx, stitchrun.RunEvent{Type: eventType, RunID: runID, Status: status, Timestamp: time.Now()})
}
