// Package compiler turns an author-facing VisualGraph into a validated,
// O(1)-indexed ExecutionGraph. Compile is a pure function: no IO, no clock,
// no randomness. It never throws on malformed author input — it accumulates
// ValidationErrors and returns them instead.
//
// Grounded on the teacher's internal/infrastructure/graph/engine.go
// (buildExecutionPlan's adjacency build, hasCycle's DFS tri-coloring), with
// two corrections the teacher's own code did not make: cycles are rejected
// (not merely noted and executed anyway), and required-input / worker-type
// resolution are validated up front instead of failing at run time.
package compiler

import (
	"sort"

	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
)

// WorkerTypeKnown reports whether a workerType string is registered with the
// in-process worker registry. The compiler takes this as a function so it
// stays a pure function of its inputs (no direct infrastructure dependency).
type WorkerTypeKnown func(workerType string) bool

// Compile validates visual and produces an ExecutionGraph, or a non-empty
// list of ValidationErrors. Complexity is O(V+E).
func Compile(visual stitchgraph.VisualGraph, knownWorkerType WorkerTypeKnown) (*stitchgraph.ExecutionGraph, []stitchgraph.ValidationError) {
	var errs []stitchgraph.ValidationError

	nodes := make(map[string]stitchgraph.Node, len(visual.Nodes))
	for _, vn := range visual.Nodes {
		nodes[vn.ID] = vn.Node
	}

	adjOut := make(map[string][]string, len(nodes))
	adjIn := make(map[string][]string, len(nodes))
	edgeData := make(map[stitchgraph.EdgeKey]map[string]string, len(visual.Edges))
	inDegree := make(map[string]int, len(nodes))
	outDegree := make(map[string]int, len(nodes))
	for id := range nodes {
		adjOut[id] = nil
		adjIn[id] = nil
	}

	for _, ve := range visual.Edges {
		_, srcOK := nodes[ve.Source]
		_, dstOK := nodes[ve.Target]
		if !srcOK {
			errs = append(errs, stitchgraph.ValidationError{
				Kind: stitchgraph.ErrEdgeEndpoint, Edge: ve.ID,
				Detail: "source node not found: " + ve.Source,
			})
			continue
		}
		if !dstOK {
			errs = append(errs, stitchgraph.ValidationError{
				Kind: stitchgraph.ErrEdgeEndpoint, Edge: ve.ID,
				Detail: "target node not found: " + ve.Target,
			})
			continue
		}
		adjOut[ve.Source] = append(adjOut[ve.Source], ve.Target)
		adjIn[ve.Target] = append(adjIn[ve.Target], ve.Source)
		inDegree[ve.Target]++
		outDegree[ve.Source]++
		edgeData[stitchgraph.EdgeKey{Source: ve.Source, Target: ve.Target}] = ve.Mapping
	}

	if cyc := findCycle(nodes, adjOut); cyc != nil {
		errs = append(errs, stitchgraph.ValidationError{
			Kind:  stitchgraph.ErrCycle,
			Nodes: cyc,
		})
	}

	for id, n := range nodes {
		for _, input := range n.InputSchema() {
			if !input.Required {
				continue
			}
			if input.HasDefault {
				continue
			}
			satisfied := false
			for _, src := range adjIn[id] {
				if m := edgeData[stitchgraph.EdgeKey{Source: src, Target: id}]; m != nil {
					if _, ok := m[input.Name]; ok {
						satisfied = true
						break
					}
				}
			}
			if !satisfied {
				errs = append(errs, stitchgraph.ValidationError{
					Kind: stitchgraph.ErrMissingRequiredInput, Node: id, Input: input.Name,
				})
			}
		}

		if n.Kind == stitchgraph.KindWorker {
			wc := n.Worker
			hasRegistered := wc != nil && wc.WorkerType != "" && knownWorkerType != nil && knownWorkerType(wc.WorkerType)
			hasWebhook := wc != nil && wc.WebhookURL != ""
			if !hasRegistered && !hasWebhook {
				errs = append(errs, stitchgraph.ValidationError{
					Kind: stitchgraph.ErrUnknownWorkerType, Node: id,
					Detail: "neither a registered workerType nor a webhookUrl is present",
				})
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	var entry, terminal []string
	for id := range nodes {
		if inDegree[id] == 0 {
			entry = append(entry, id)
		}
		if outDegree[id] == 0 {
			terminal = append(terminal, id)
		}
	}
	sort.Strings(entry)
	sort.Strings(terminal)

	return &stitchgraph.ExecutionGraph{
		Nodes:    nodes,
		AdjOut:   adjOut,
		AdjIn:    adjIn,
		EdgeData: edgeData,
		Entry:    entry,
		Terminal: terminal,
	}, nil
}

// findCycle runs DFS with tri-coloring (white/gray/black) over the graph and
// returns the nodes on the first cycle found, or nil if the graph is
// acyclic. Iteration order over nodes is sorted so the result is
// deterministic for a given graph.
func findCycle(nodes map[string]stitchgraph.Node, adjOut map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	parent := make(map[string]string, len(nodes))

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
		color[id] = white
	}
	sort.Strings(ids)

	var cycle []string

	var dfs func(string) bool
	dfs = func(u string) bool {
		color[u] = gray
		neighbors := append([]string(nil), adjOut[u]...)
		sort.Strings(neighbors)
		for _, v := range neighbors {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
			} else if color[v] == gray {
				// Back edge u -> v: walk parent pointers from u back to v.
				cycle = []string{v}
				cur := u
				for cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white {
			if dfs(id) {
				sort.Strings(cycle)
				return cycle
			}
		}
	}
	return nil
}
