package handler

import (
	"sort"

	"github.com/duragraph/duragraph/internal/domain/stitchrun"
)

// CollectStatus reports a Collector's classification outcome for one
// evaluation, per spec.md §4.3.4.
type CollectStatus int

const (
	// CollectPending means at least one predecessor has not yet reached a
	// terminal state; the Collector stays pending and the caller should
	// return without writing anything (idempotent re-entry).
	CollectPending CollectStatus = iota
	// CollectFailed means at least one predecessor failed; the Collector
	// transitions to failed with ErrUpstreamParallelFailed.
	CollectFailed
	// CollectCompleted means every predecessor completed; Output holds the
	// collected array, ordered by (base id, index).
	CollectCompleted
)

// ErrUpstreamParallelFailed is the canonical Collector failure message from
// spec.md §4.3.4.
const ErrUpstreamParallelFailed = "Upstream parallel path failed"

// CollectResult is the pure outcome of evaluating a Collector's predecessors.
type CollectResult struct {
	Status CollectStatus
	Output []interface{}
}

// predecessorID is one member of the union set P: a concrete upstream node
// id decomposed into its base and parallel index (Index is -1 when the
// upstream base has no parallel siblings at all, i.e. it fired unsuffixed).
type predecessorID struct {
	Base  string
	Index int
}

// Collect implements spec.md §4.3.4's Collector fan-in algebra: for each
// base upstream id in upstreamBases, enumerate every key in nodeStates
// matching that base (either the bare base, or base_<n>), union across all
// upstreams into P, then classify. Collect performs no IO; it is given the
// full node_states map for the run and returns a pure verdict.
func Collect(upstreamBases []string, nodeStates map[string]stitchrun.NodeState) CollectResult {
	var preds []predecessorID
	for _, base := range upstreamBases {
		found := false
		for id := range nodeStates {
			p := ParseParallelID(id)
			if p.Base != base {
				continue
			}
			found = true
			idx := -1
			if p.IsSuffixed {
				idx = p.Index
			}
			preds = append(preds, predecessorID{Base: base, Index: idx})
		}
		if !found {
			// The upstream hasn't fired at all yet in this run: it is
			// itself a not-yet-completed predecessor.
			preds = append(preds, predecessorID{Base: base, Index: -1})
		}
	}

	sort.Slice(preds, func(i, j int) bool {
		if preds[i].Base != preds[j].Base {
			return preds[i].Base < preds[j].Base
		}
		return preds[i].Index < preds[j].Index
	})

	anyFailed := false
	anyIncomplete := false
	outputs := make([]interface{}, 0, len(preds))
	for _, p := range preds {
		id := p.Base
		if p.Index >= 0 {
			id = SuffixedID(p.Base, p.Index)
		}
		st, ok := nodeStates[id]
		if !ok || !st.Status.IsTerminal() {
			anyIncomplete = true
			continue
		}
		if st.Status == stitchrun.NodeStatusFailed {
			anyFailed = true
			continue
		}
		outputs = append(outputs, st.Output)
	}

	if anyFailed {
		return CollectResult{Status: CollectFailed}
	}
	if anyIncomplete {
		return CollectResult{Status: CollectPending}
	}
	return CollectResult{Status: CollectCompleted, Output: outputs}
}
