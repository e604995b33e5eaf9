package compiler_test

import (
	"testing"

	"github.com/duragraph/duragraph/internal/application/compiler"
	"github.com/duragraph/duragraph/internal/domain/stitchgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, kind stitchgraph.Kind) stitchgraph.VisualNode {
	return stitchgraph.VisualNode{Node: stitchgraph.Node{ID: id, Kind: kind}}
}

func edge(id, source, target string, mapping map[string]string) stitchgraph.VisualEdge {
	return stitchgraph.VisualEdge{Edge: stitchgraph.Edge{ID: id, Source: source, Target: target, Mapping: mapping}}
}

func alwaysKnown(string) bool { return true }

// TestCompile_MinimalLinear exercises boundary scenario A's compile-time half:
// a two-node linear graph with a satisfied mapping compiles cleanly, with
// A as the only entry node and B as the only terminal node.
func TestCompile_MinimalLinear(t *testing.T) {
	a := node("A", stitchgraph.KindUX)
	a.UX = &stitchgraph.UXConfig{Prompt: "say hi"}
	b := node("B", stitchgraph.KindWorker)
	b.Worker = &stitchgraph.WorkerConfig{
		WorkerType:  "echo",
		InputSchema: []stitchgraph.InputSpec{{Name: "prompt", Required: true}},
	}

	visual := stitchgraph.VisualGraph{
		Nodes: []stitchgraph.VisualNode{a, b},
		Edges: []stitchgraph.VisualEdge{edge("e1", "A", "B", map[string]string{"prompt": "text"})},
	}

	graph, errs := compiler.Compile(visual, alwaysKnown)
	require.Empty(t, errs)
	require.NotNil(t, graph)
	assert.Equal(t, []string{"A"}, graph.Entry)
	assert.Equal(t, []string{"B"}, graph.Terminal)
	assert.Equal(t, []string{"B"}, graph.AdjOut["A"])
	assert.Equal(t, map[string]string{"prompt": "text"}, graph.Mapping("A", "B"))
}

// TestCompile_MissingRequiredInput exercises boundary scenario D.
func TestCompile_MissingRequiredInput(t *testing.T) {
	a := node("A", stitchgraph.KindUX)
	a.UX = &stitchgraph.UXConfig{}
	b := node("B", stitchgraph.KindWorker)
	b.Worker = &stitchgraph.WorkerConfig{
		WorkerType:  "echo",
		InputSchema: []stitchgraph.InputSpec{{Name: "prompt", Required: true}},
	}

	visual := stitchgraph.VisualGraph{
		Nodes: []stitchgraph.VisualNode{a, b},
		Edges: []stitchgraph.VisualEdge{edge("e1", "A", "B", nil)},
	}

	graph, errs := compiler.Compile(visual, alwaysKnown)
	assert.Nil(t, graph)
	require.NotEmpty(t, errs)

	var found bool
	for _, e := range errs {
		if e.Kind == stitchgraph.ErrMissingRequiredInput && e.Node == "B" && e.Input == "prompt" {
			found = true
		}
	}
	assert.True(t, found, "expected MissingRequiredInput{node:B, input:prompt} in %v", errs)
}

// TestCompile_Cycle exercises boundary scenario E.
func TestCompile_Cycle(t *testing.T) {
	visual := stitchgraph.VisualGraph{
		Nodes: []stitchgraph.VisualNode{
			node("A", stitchgraph.KindWorker),
			node("B", stitchgraph.KindWorker),
			node("C", stitchgraph.KindWorker),
		},
		Edges: []stitchgraph.VisualEdge{
			edge("e1", "A", "B", nil),
			edge("e2", "B", "C", nil),
			edge("e3", "C", "A", nil),
		},
	}
	for i := range visual.Nodes {
		visual.Nodes[i].Worker = &stitchgraph.WorkerConfig{WorkerType: "echo"}
	}

	graph, errs := compiler.Compile(visual, alwaysKnown)
	assert.Nil(t, graph)
	require.Len(t, errs, 1)
	assert.Equal(t, stitchgraph.ErrCycle, errs[0].Kind)
	assert.Equal(t, []string{"A", "B", "C"}, errs[0].Nodes)
}

func TestCompile_UnknownEdgeEndpoint(t *testing.T) {
	visual := stitchgraph.VisualGraph{
		Nodes: []stitchgraph.VisualNode{node("A", stitchgraph.KindWorker)},
		Edges: []stitchgraph.VisualEdge{edge("e1", "A", "ghost", nil)},
	}
	visual.Nodes[0].Worker = &stitchgraph.WorkerConfig{WorkerType: "echo"}

	_, errs := compiler.Compile(visual, alwaysKnown)
	require.Len(t, errs, 1)
	assert.Equal(t, stitchgraph.ErrEdgeEndpoint, errs[0].Kind)
	assert.Equal(t, "e1", errs[0].Edge)
}

func TestCompile_UnknownWorkerType(t *testing.T) {
	a := node("A", stitchgraph.KindWorker)
	a.Worker = &stitchgraph.WorkerConfig{WorkerType: "does-not-exist"}

	visual := stitchgraph.VisualGraph{Nodes: []stitchgraph.VisualNode{a}}

	_, errs := compiler.Compile(visual, func(string) bool { return false })
	require.Len(t, errs, 1)
	assert.Equal(t, stitchgraph.ErrUnknownWorkerType, errs[0].Kind)
	assert.Equal(t, "A", errs[0].Node)
}

func TestCompile_WebhookWorkerNeedsNoRegisteredType(t *testing.T) {
	a := node("A", stitchgraph.KindWorker)
	a.Worker = &stitchgraph.WorkerConfig{WebhookURL: "https://example.com/hook"}

	visual := stitchgraph.VisualGraph{Nodes: []stitchgraph.VisualNode{a}}

	graph, errs := compiler.Compile(visual, func(string) bool { return false })
	require.Empty(t, errs)
	require.NotNil(t, graph)
}

func TestCompile_DeterministicEntryAndTerminalOrdering(t *testing.T) {
	visual := stitchgraph.VisualGraph{
		Nodes: []stitchgraph.VisualNode{
			node("Z", stitchgraph.KindWorker),
			node("A", stitchgraph.KindWorker),
			node("M", stitchgraph.KindWorker),
		},
	}
	for i := range visual.Nodes {
		visual.Nodes[i].Worker = &stitchgraph.WorkerConfig{WorkerType: "echo"}
	}

	graph, errs := compiler.Compile(visual, alwaysKnown)
	require.Empty(t, errs)
	assert.Equal(t, []string{"A", "M", "Z"}, graph.Entry)
	assert.Equal(t, []string{"A", "M", "Z"}, graph.Terminal)
}
