package engine

import (
	"context"
	"log"
	"time"

	"github.com/duragraph/duragraph/internal/domain/entity"
	"github.com/duragraph/duragraph/internal/domain/handler"
	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/duragraph/duragraph/internal/infrastructure/worker"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// fireWorker implements the Worker handler, spec.md §4.3.1.
func (e *Engine) fireWorker(ctx context.Context, run *stitchrun.Run, node stitchgraph.Node, nodeID string, input map[string]interface{}) error {
	kind := string(node.Kind)
	pending := stitchrun.NodeStatusPending
	if err := e.transition(ctx, run, nodeID, kind, stitchrun.NodeState{Status: stitchrun.NodeStatusRunning}, &pending); err != nil {
		return err
	}
	// transition no-ops on CAS mismatch (another caller already moved this
	// node past pending); only proceed to dispatch if we actually won the
	// race.
	if run.NodeStates[nodeID].Status != stitchrun.NodeStatusRunning {
		return nil
	}

	cfg := node.Worker
	running := stitchrun.NodeStatusRunning

	// fail records the synchronous failure and re-enters the walker from
	// nodeID, the way fireSplitter re-enters after its own synchronous
	// completion: a Worker that never reaches the async dispatch path (bad
	// config, unreachable webhook) has no callback ever coming to trigger
	// Advance, so its immediate successor would otherwise never learn of
	// "Upstream failed" (spec.md §8 invariant 8, boundary scenario F).
	fail := func(errMsg string) error {
		if err := e.transition(ctx, run, nodeID, kind, stitchrun.NodeState{Status: stitchrun.NodeStatusFailed, Error: errMsg}, &running); err != nil {
			return err
		}
		return e.Advance(ctx, run.ID, nodeID)
	}

	if cfg.WorkerType != "" {
		if exec, ok := e.Registry.Get(cfg.WorkerType); ok {
			if err := exec.Execute(run.ID, nodeID, cfg.Config, input); err != nil {
				return fail(err.Error())
			}
			return nil
		}
	}

	if cfg.WebhookURL == "" {
		return fail(worker.ErrInvalidWebhookURL.Error())
	}
	dispatchStart := time.Now()
	err := e.Dispatcher.Dispatch(ctx, e.BaseURL, cfg.WebhookURL, run.ID, nodeID, cfg.Config, input)
	if e.Metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.Metrics.RecordWebhookDispatch(outcome, time.Since(dispatchStart))
	}
	if err != nil {
		return fail(err.Error())
	}
	return nil
}

// fireUX implements the UX handler, spec.md §4.3.2: transition to
// waiting_for_user, storing the merged input as provisional output.
func (e *Engine) fireUX(ctx context.Context, run *stitchrun.Run, nodeID string, input map[string]interface{}) error {
	pending := stitchrun.NodeStatusPending
	return e.transition(ctx, run, nodeID, string(stitchgraph.KindUX), stitchrun.NodeState{Status: stitchrun.NodeStatusWaitingForUser, Output: input}, &pending)
}

// fireSplitter implements the Splitter handler, spec.md §4.3.3.
func (e *Engine) fireSplitter(ctx context.Context, graph *stitchgraph.ExecutionGraph, run *stitchrun.Run, node stitchgraph.Node, nodeID string, input map[string]interface{}) error {
	downstream := graph.AdjOut[node.ID]
	result, err := handler.Split(*node.Splitter, input, downstream)
	if err != nil {
		pending := stitchrun.NodeStatusPending
		return e.transition(ctx, run, nodeID, string(node.Kind), stitchrun.NodeState{Status: stitchrun.NodeStatusFailed, Error: err.Error()}, &pending)
	}

	states := result.NewStates
	states[nodeID] = stitchrun.NodeState{Status: stitchrun.NodeStatusCompleted, Output: result.Array}
	if err := e.Store.UpdateNodeStates(ctx, run.ID, states); err != nil {
		return err
	}
	for id, st := range states {
		run.NodeStates[id] = st
	}
	e.publishNodeEvent(ctx, run.ID, nodeID, stitchrun.EventNodeCompleted, states[nodeID])
	if e.Metrics != nil {
		e.Metrics.RecordNodeTransition(string(node.Kind), string(stitchrun.NodeStatusCompleted), 0)
	}
	// The new W_0..W_{n-1} states were written pending but never activated;
	// re-enter the walker from nodeID so Advance's Splitter-kind branch
	// fires each one, matching Advance's own doc comment ("recursively,
	// within the same call, a Splitter completion").
	return e.Advance(ctx, run.ID, nodeID)
}

// fireCollector implements the Collector handler, spec.md §4.3.4. It is
// invoked for every activation of a Collector node (never suffixed, since
// Collectors are the fan-in point) and is safe to call repeatedly.
func (e *Engine) fireCollector(ctx context.Context, graph *stitchgraph.ExecutionGraph, run *stitchrun.Run, node stitchgraph.Node, nodeID string) error {
	bases := graph.AdjIn[node.ID]
	result := handler.Collect(bases, run.NodeStates)

	pending := stitchrun.NodeStatusPending
	kind := string(stitchgraph.KindCollector)
	switch result.Status {
	case handler.CollectPending:
		return nil
	case handler.CollectFailed:
		return e.transition(ctx, run, nodeID, kind, stitchrun.NodeState{Status: stitchrun.NodeStatusFailed, Error: handler.ErrUpstreamParallelFailed}, &pending)
	case handler.CollectCompleted:
		return e.transition(ctx, run, nodeID, kind, stitchrun.NodeState{Status: stitchrun.NodeStatusCompleted, Output: result.Output, ExpectedUpstreamCount: len(result.Output)}, &pending)
	}
	return nil
}

// Callback implements the worker-callback control endpoint, spec.md §4.5/§6:
// transition nodeID to completed/failed, apply entityMovement, then
// re-enter the edge walker. Repeated delivery of the same terminal
// transition is a no-op (the CAS inside transition handles it).
func (e *Engine) Callback(ctx context.Context, runID, nodeID string, succeeded bool, output interface{}, errMsg string) error {
	run, err := e.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	graph, err := e.Store.GetFlowVersion(ctx, run.FlowVersionID)
	if err != nil {
		return err
	}

	cur, ok := run.NodeStates[nodeID]
	if !ok {
		return errors.NotFound("node_state", nodeID)
	}
	if cur.Status != stitchrun.NodeStatusRunning {
		// Already transitioned by a prior delivery: idempotent no-op.
		return nil
	}

	var newState stitchrun.NodeState
	if succeeded {
		newState = stitchrun.NodeState{Status: stitchrun.NodeStatusCompleted, Output: output}
	} else {
		newState = stitchrun.NodeState{Status: stitchrun.NodeStatusFailed, Error: errMsg}
	}
	running := stitchrun.NodeStatusRunning
	pid := handler.ParseParallelID(nodeID)
	kind := ""
	if node, ok := graph.Nodes[pid.Base]; ok {
		kind = string(node.Kind)
	}
	if err := e.transition(ctx, run, nodeID, kind, newState, &running); err != nil {
		return err
	}

	if node, ok := graph.Nodes[pid.Base]; ok && node.Kind == stitchgraph.KindWorker && node.Worker.EntityMovement != nil && e.Mover != nil {
		meta := map[string]interface{}{"runId": runID, "nodeId": nodeID}
		if err := entity.Apply(ctx, e.Mover, node.Worker.EntityMovement, run.EntityID, succeeded, meta); err != nil {
			log.Printf("stitch: entity movement failed for run %s node %s: %v", runID, nodeID, err)
		}
	}

	return e.Advance(ctx, runID, nodeID)
}

// Complete implements the UX-complete control endpoint, spec.md §4.5/§6.
func (e *Engine) Complete(ctx context.Context, runID, nodeID string, input interface{}) error {
	run, err := e.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	graph, err := e.Store.GetFlowVersion(ctx, run.FlowVersionID)
	if err != nil {
		return err
	}

	pid := handler.ParseParallelID(nodeID)
	node, ok := graph.Nodes[pid.Base]
	if !ok {
		return errors.NotFound("node", nodeID)
	}
	if node.Kind != stitchgraph.KindUX {
		return errors.InvalidState(string(node.Kind), "complete")
	}

	cur, ok := run.NodeStates[nodeID]
	if !ok {
		return errors.NotFound("node_state", nodeID)
	}
	if cur.Status != stitchrun.NodeStatusWaitingForUser {
		return nil
	}

	waiting := stitchrun.NodeStatusWaitingForUser
	if err := e.transition(ctx, run, nodeID, string(node.Kind), stitchrun.NodeState{Status: stitchrun.NodeStatusCompleted, Output: input}, &waiting); err != nil {
		return err
	}
	return e.Advance(ctx, runID, nodeID)
}

// TimeoutUX fails a node that has sat in waiting_for_user too long (spec.md
// §5's UX-timeout sweep) and re-enters the edge walker, matching the shape
// of Complete but transitioning to failed instead of completed.
func (e *Engine) TimeoutUX(ctx context.Context, runID, nodeID, errMsg string) error {
	run, err := e.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	graph, err := e.Store.GetFlowVersion(ctx, run.FlowVersionID)
	if err != nil {
		return err
	}

	pid := handler.ParseParallelID(nodeID)
	node, ok := graph.Nodes[pid.Base]
	if !ok {
		return errors.NotFound("node", nodeID)
	}

	cur, ok := run.NodeStates[nodeID]
	if !ok {
		return errors.NotFound("node_state", nodeID)
	}
	if cur.Status != stitchrun.NodeStatusWaitingForUser {
		return nil
	}

	waiting := stitchrun.NodeStatusWaitingForUser
	if err := e.transition(ctx, run, nodeID, string(node.Kind), stitchrun.NodeState{Status: stitchrun.NodeStatusFailed, Error: errMsg}, &waiting); err != nil {
		return err
	}
	return e.Advance(ctx, runID, nodeID)
}
