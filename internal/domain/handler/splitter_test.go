package handler_test

import (
	"testing"

	"github.com/duragraph/duragraph/internal/domain/handler"
	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSplit_Algebra exercises spec.md §8 invariant 4: for an input array of
// length n and k downstream nodes, exactly n*k parallel instance states are
// created with ids {d_i : d in downstream, 0 <= i < n}.
func TestSplit_Algebra(t *testing.T) {
	cfg := stitchgraph.SplitterConfig{ArrayPath: "items"}
	input := map[string]interface{}{
		"items": []interface{}{"a", "b", "c"},
	}

	result, err := handler.Split(cfg, input, []string{"W", "X"})
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"a", "b", "c"}, result.Array)
	require.Len(t, result.NewStates, 6)

	for _, d := range []string{"W", "X"} {
		for i, want := range []interface{}{"a", "b", "c"} {
			st, ok := result.NewStates[handler.SuffixedID(d, i)]
			require.True(t, ok, "missing state for %s", handler.SuffixedID(d, i))
			assert.Equal(t, stitchrun.NodeStatusPending, st.Status)
			assert.Equal(t, want, st.Output)
		}
	}
}

// TestSplit_EmptyArray exercises spec.md §8 invariant 7's Splitter half: an
// empty array produces a completed split with no parallel instances.
func TestSplit_EmptyArray(t *testing.T) {
	cfg := stitchgraph.SplitterConfig{ArrayPath: "items"}
	input := map[string]interface{}{"items": []interface{}{}}

	result, err := handler.Split(cfg, input, []string{"W"})
	require.NoError(t, err)
	assert.Empty(t, result.Array)
	assert.Empty(t, result.NewStates)
}

func TestSplit_MissingArrayPath(t *testing.T) {
	t.Run("unset arrayPath config", func(t *testing.T) {
		_, err := handler.Split(stitchgraph.SplitterConfig{}, map[string]interface{}{}, []string{"W"})
		assert.ErrorIs(t, err, handler.ErrMissingArrayPath)
	})

	// A present arrayPath that resolves to nothing is a data problem, not a
	// config problem: it gets the same ErrNotAnArray as any other
	// non-array value at that path.
	t.Run("arrayPath resolves to nothing", func(t *testing.T) {
		cfg := stitchgraph.SplitterConfig{ArrayPath: "missing"}
		_, err := handler.Split(cfg, map[string]interface{}{}, []string{"W"})
		assert.ErrorIs(t, err, handler.ErrNotAnArray)
	})
}

func TestSplit_NotAnArray(t *testing.T) {
	cfg := stitchgraph.SplitterConfig{ArrayPath: "items"}
	input := map[string]interface{}{"items": "not-an-array"}
	_, err := handler.Split(cfg, input, []string{"W"})
	assert.ErrorIs(t, err, handler.ErrNotAnArray)
}
