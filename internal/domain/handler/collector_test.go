package handler_test

import (
	"testing"

	"github.com/duragraph/duragraph/internal/domain/handler"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/stretchr/testify/assert"
)

// TestCollect_Fairness exercises spec.md §8 invariant 5: the Collector output
// is ordered lexicographically on base id, then ascending on numeric index,
// regardless of the order callbacks actually arrived in.
func TestCollect_Fairness(t *testing.T) {
	states := map[string]stitchrun.NodeState{
		"W_1": {Status: stitchrun.NodeStatusCompleted, Output: "B"},
		"W_0": {Status: stitchrun.NodeStatusCompleted, Output: "A"},
		"W_2": {Status: stitchrun.NodeStatusCompleted, Output: "C"},
	}

	result := handler.Collect([]string{"W"}, states)

	assert.Equal(t, handler.CollectCompleted, result.Status)
	assert.Equal(t, []interface{}{"A", "B", "C"}, result.Output)
}

// TestCollect_Prematurity exercises invariant 6: while any predecessor is
// still non-terminal and none has failed, the Collector stays pending.
func TestCollect_Prematurity(t *testing.T) {
	states := map[string]stitchrun.NodeState{
		"W_0": {Status: stitchrun.NodeStatusCompleted, Output: "A"},
		"W_1": {Status: stitchrun.NodeStatusRunning},
	}

	result := handler.Collect([]string{"W"}, states)
	assert.Equal(t, handler.CollectPending, result.Status)
	assert.Nil(t, result.Output)
}

func TestCollect_UpstreamNotYetFired(t *testing.T) {
	result := handler.Collect([]string{"W"}, map[string]stitchrun.NodeState{})
	assert.Equal(t, handler.CollectPending, result.Status)
}

func TestCollect_Failure(t *testing.T) {
	states := map[string]stitchrun.NodeState{
		"W_0": {Status: stitchrun.NodeStatusCompleted, Output: "A"},
		"W_1": {Status: stitchrun.NodeStatusFailed, Error: "boom"},
		"W_2": {Status: stitchrun.NodeStatusCompleted, Output: "C"},
	}

	result := handler.Collect([]string{"W"}, states)
	assert.Equal(t, handler.CollectFailed, result.Status)
}

// TestCollect_MultipleUpstreamBases exercises the union-across-upstreams
// step of the fan-in algebra: predecessors from distinct bases are merged
// into one sorted set before classification.
func TestCollect_MultipleUpstreamBases(t *testing.T) {
	states := map[string]stitchrun.NodeState{
		"X": {Status: stitchrun.NodeStatusCompleted, Output: "x"},
		"W": {Status: stitchrun.NodeStatusCompleted, Output: "w"},
	}

	result := handler.Collect([]string{"W", "X"}, states)
	assert.Equal(t, handler.CollectCompleted, result.Status)
	assert.Equal(t, []interface{}{"w", "x"}, result.Output)
}
