package stitchgraph

import "encoding/json"

// ExecutionGraph is the compiler's O(1)-indexed output. It is immutable once
// produced and carries no UI data.
type ExecutionGraph struct {
	Nodes map[string]Node

	// AdjOut[n] lists the nodes n points to; AdjIn[n] lists the nodes that
	// point to n.
	AdjOut map[string][]string
	AdjIn  map[string][]string

	// EdgeData maps (source, target) -> mapping. Parallel (source, target)
	// edges are not supported: the compiler does not reject duplicate edges
	// between the same pair, and the last one's mapping wins during indexing
	// (no two authored edges should share a (source,target) pair).
	EdgeData map[EdgeKey]map[string]string

	// Entry lists nodes with in-degree 0 (fired by startRun).
	Entry []string
	// Terminal lists nodes with out-degree 0.
	Terminal []string
}

// EdgeKey indexes EdgeData by (source, target) base ids.
type EdgeKey struct {
	Source string
	Target string
}

// NodeIDs returns all node ids in the graph, in no particular order.
func (g *ExecutionGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	return ids
}

// Mapping looks up the edge mapping for (source, target), or nil.
func (g *ExecutionGraph) Mapping(source, target string) map[string]string {
	return g.EdgeData[EdgeKey{Source: source, Target: target}]
}

// edgeEntry is the wire form of one EdgeData entry. encoding/json cannot
// marshal a map keyed by a struct type directly, so MarshalJSON/UnmarshalJSON
// flatten EdgeData to a slice of these for storage in Postgres JSONB columns
// and the Redis flow-version cache.
type edgeEntry struct {
	Source  string            `json:"source"`
	Target  string            `json:"target"`
	Mapping map[string]string `json:"mapping"`
}

type executionGraphWire struct {
	Nodes    map[string]Node `json:"nodes"`
	AdjOut   map[string][]string `json:"adjOut"`
	AdjIn    map[string][]string `json:"adjIn"`
	Edges    []edgeEntry `json:"edges"`
	Entry    []string `json:"entry"`
	Terminal []string `json:"terminal"`
}

// MarshalJSON implements json.Marshaler.
func (g ExecutionGraph) MarshalJSON() ([]byte, error) {
	edges := make([]edgeEntry, 0, len(g.EdgeData))
	for k, v := range g.EdgeData {
		edges = append(edges, edgeEntry{Source: k.Source, Target: k.Target, Mapping: v})
	}
	return json.Marshal(executionGraphWire{
		Nodes:    g.Nodes,
		AdjOut:   g.AdjOut,
		AdjIn:    g.AdjIn,
		Edges:    edges,
		Entry:    g.Entry,
		Terminal: g.Terminal,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *ExecutionGraph) UnmarshalJSON(data []byte) error {
	var wire executionGraphWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	edgeData := make(map[EdgeKey]map[string]string, len(wire.Edges))
	for _, e := range wire.Edges {
		edgeData[EdgeKey{Source: e.Source, Target: e.Target}] = e.Mapping
	}
	g.Nodes = wire.Nodes
	g.AdjOut = wire.AdjOut
	g.AdjIn = wire.AdjIn
	g.EdgeData = edgeData
	g.Entry = wire.Entry
	g.Terminal = wire.Terminal
	return nil
}
