// Package handler holds the pure per-node-kind algebra: parallel-instance id
// parsing/formatting, the Splitter fan-out computation, the Collector
// fan-in classification, and merged-input construction. These are plain
// functions over data (no Store, no context) so they can be unit tested
// directly, per spec.md §9's "carry a structured (baseId, index) pair
// internally and only render the joined form when persisting".
package handler

import (
	"regexp"
	"strconv"
)

// suffixRe is the authoritative parser for a persisted parallel-instance id:
// `^.+_(\d+)$` per spec.md §9.
var suffixRe = regexp.MustCompile(`^(.+)_(\d+)$`)

// ParallelID is a node id decomposed into its base and, if present, its
// 0-based parallel index.
type ParallelID struct {
	Base     string
	Index    int
	IsSuffixed bool
}

// ParseParallelID decomposes a persisted id into (base, index).
func ParseParallelID(id string) ParallelID {
	if m := suffixRe.FindStringSubmatch(id); m != nil {
		idx, err := strconv.Atoi(m[2])
		if err == nil {
			return ParallelID{Base: m[1], Index: idx, IsSuffixed: true}
		}
	}
	return ParallelID{Base: id}
}

// Render joins a ParallelID back into its persisted string form.
func (p ParallelID) Render() string {
	if !p.IsSuffixed {
		return p.Base
	}
	return p.Base + "_" + strconv.Itoa(p.Index)
}

// WithIndex returns a copy of the ParallelID at the given index.
func (p ParallelID) WithIndex(idx int) ParallelID {
	return ParallelID{Base: p.Base, Index: idx, IsSuffixed: true}
}

// SuffixedID renders base with the given 0-based index, e.g. ("W", 2) ->
// "W_2". This is the canonical id for a Splitter's parallel instance.
func SuffixedID(base string, index int) string {
	return ParallelID{Base: base, Index: index, IsSuffixed: true}.Render()
}
