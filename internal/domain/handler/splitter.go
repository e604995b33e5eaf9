package handler

import (
	"errors"

	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/domain/stitchrun"
	"github.com/duragraph/duragraph/internal/pkg/dotpath"
)

// ErrMissingArrayPath and ErrNotAnArray are the two canonical Splitter
// failures named in spec.md §4.3.3.
var (
	ErrMissingArrayPath = errors.New("Splitter node missing arrayPath in configuration")
	ErrNotAnArray       = errors.New("Value at path is not an array")
)

// SplitResult is the pure outcome of firing a Splitter, per spec.md §4.3.3.
type SplitResult struct {
	// Array is the whole array read from input, used as the Splitter's own
	// completed output.
	Array []interface{}
	// NewStates maps each new parallel-instance id (d_i) to its initial
	// pending state, for every downstream d and index i in [0, len(Array)).
	// Empty when Array is empty.
	NewStates map[string]stitchrun.NodeState
}

// Split computes the fan-out for a Splitter node. It performs no IO; the
// caller is responsible for persisting NewStates atomically and marking the
// Splitter node completed with Array as output.
func Split(cfg stitchgraph.SplitterConfig, input map[string]interface{}, downstream []string) (SplitResult, error) {
	if cfg.ArrayPath == "" {
		return SplitResult{}, ErrMissingArrayPath
	}
	// A configured path that resolves to nothing (or to a non-array value)
	// is a data problem, not a config problem: dotpath.Get returns nil for
	// both a missing and a present-but-wrong-shape value, and nil fails the
	// []interface{} assertion the same way a string or map would.
	raw := dotpath.Get(map[string]interface{}(input), cfg.ArrayPath)
	arr, ok := raw.([]interface{})
	if !ok {
		return SplitResult{}, ErrNotAnArray
	}

	result := SplitResult{Array: arr, NewStates: make(map[string]stitchrun.NodeState)}
	for i := range arr {
		for _, d := range downstream {
			id := SuffixedID(d, i)
			result.NewStates[id] = stitchrun.NodeState{
				Status: stitchrun.NodeStatusPending,
				Output: arr[i],
			}
		}
	}
	return result, nil
}
