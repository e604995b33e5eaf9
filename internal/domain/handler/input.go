package handler

import (
	"sort"

	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/duragraph/duragraph/internal/pkg/dotpath"
)

// MergeInput builds the merged input object for a node, per spec.md §4.4.
//
// mappings maps each upstream base id to the edge mapping
// (targetInputName -> dotted path) for the edge from that upstream into the
// target node. upstreamOutputs maps each upstream base id to the resolved
// output value that mapping should be read against (the caller has already
// worked out which concrete, possibly-parallel, sibling that output came
// from). inputs is the target node's declared input schema, used only to
// apply defaults for inputs no incoming mapping set.
func MergeInput(mappings map[string]map[string]string, upstreamOutputs map[string]interface{}, inputs []stitchgraph.InputSpec) map[string]interface{} {
	result := make(map[string]interface{})

	bases := make([]string, 0, len(mappings))
	for u := range mappings {
		bases = append(bases, u)
	}
	sort.Strings(bases)

	for _, u := range bases {
		m := mappings[u]
		src := upstreamOutputs[u]
		for targetInput, sourcePath := range m {
			result[targetInput] = dotpath.Get(src, sourcePath)
		}
	}

	for _, in := range inputs {
		if _, ok := result[in.Name]; ok {
			continue
		}
		if in.HasDefault {
			result[in.Name] = in.Default
		}
	}

	return result
}
