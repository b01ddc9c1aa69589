package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/staleguard/internal/node"
	"github.com/vk/staleguard/internal/ruleset"
)

func source(id string, order int) *node.Node {
	return &node.Node{ID: id, Kind: node.SourceInput, Method: node.FileContent, Path: id, Order: order}
}

func output(id string, order int) *node.Node {
	return &node.Node{ID: id, Kind: node.DerivedOutput, Executor: "test", Order: order}
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Empty(t, g.Nodes())
}

func TestAddNode(t *testing.T) {
	g := New()

	require.NoError(t, g.AddNode(source("a", 0)))
	require.NoError(t, g.AddNode(output("b", 1)))
	assert.Len(t, g.Nodes(), 2)

	err := g.AddNode(source("a", 2))
	assert.ErrorContains(t, err, "duplicate node identity")
}

func TestDeclareStaticEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddNode(source("a", 0)))
		require.NoError(t, g.AddNode(output("b", 1)))

		require.NoError(t, g.DeclareStaticEdge("b", "a"))
		assert.Equal(t, []string{"a"}, g.Dependencies("b"))
		assert.Equal(t, []string{"b"}, g.Dependents("a"))
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddNode(source("a", 0)))
		require.NoError(t, g.AddNode(output("b", 1)))

		err := g.DeclareStaticEdge("dne", "a")
		assert.ErrorContains(t, err, "output node not found")

		err = g.DeclareStaticEdge("b", "dne")
		assert.ErrorContains(t, err, "input node not found")

		err = g.DeclareStaticEdge("b", "b")
		assert.ErrorContains(t, err, "self-referential edge")

		// Source inputs are never produced and cannot depend on anything.
		err = g.DeclareStaticEdge("a", "b")
		assert.ErrorContains(t, err, "cannot have dependencies")
	})
}

func TestCycleDetection(t *testing.T) {
	t.Run("valid chain has no cycles", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddNode(source("a", 0)))
		require.NoError(t, g.AddNode(output("b", 1)))
		require.NoError(t, g.AddNode(output("c", 2)))
		require.NoError(t, g.DeclareStaticEdge("b", "a"))
		require.NoError(t, g.DeclareStaticEdge("c", "b"))
		require.NoError(t, g.DeclareStaticEdge("c", "a")) // transitive edge
		assert.NoError(t, g.ValidateAcyclic())
	})

	t.Run("static cycle is rejected and rolled back", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddNode(output("b", 0)))
		require.NoError(t, g.AddNode(output("c", 1)))
		require.NoError(t, g.DeclareStaticEdge("b", "c"))

		err := g.DeclareStaticEdge("c", "b")
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)

		// The offending edge must not survive.
		assert.Empty(t, g.Dependencies("c"))
		assert.NoError(t, g.ValidateAcyclic())
	})

	t.Run("dynamic cycle restores previous set", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddNode(source("a", 0)))
		require.NoError(t, g.AddNode(output("b", 1)))
		require.NoError(t, g.AddNode(output("c", 2)))
		require.NoError(t, g.DeclareStaticEdge("c", "b"))
		require.NoError(t, g.SetDynamicEdges("b", []string{"a"}))

		err := g.SetDynamicEdges("b", []string{"c"})
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, []string{"a"}, g.DynamicDependencies("b"))
	})
}

func TestSetDynamicEdges(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(source("a", 0)))
	require.NoError(t, g.AddNode(output("out", 1)))
	require.NoError(t, g.DeclareStaticEdge("out", "a"))

	t.Run("unknown inputs become file source nodes", func(t *testing.T) {
		require.NoError(t, g.SetDynamicEdges("out", []string{"b.txt", "c.txt"}))
		assert.Equal(t, []string{"b.txt", "c.txt"}, g.DynamicDependencies("out"))
		assert.Equal(t, []string{"a", "b.txt", "c.txt"}, g.Dependencies("out"))

		n, ok := g.Node("b.txt")
		require.True(t, ok)
		assert.Equal(t, node.SourceInput, n.Kind)
		assert.Equal(t, node.FileContent, n.Method)
	})

	t.Run("replacement, not union", func(t *testing.T) {
		require.NoError(t, g.SetDynamicEdges("out", []string{"b.txt"}))
		assert.Equal(t, []string{"b.txt"}, g.DynamicDependencies("out"))
		assert.Equal(t, []string{"a", "b.txt"}, g.Dependencies("out"))
	})

	t.Run("static edges survive replacement", func(t *testing.T) {
		require.NoError(t, g.SetDynamicEdges("out", nil))
		assert.Equal(t, []string{"a"}, g.Dependencies("out"))
	})
}

func TestDependenciesOf(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(source("a", 0)))
	require.NoError(t, g.AddNode(output("b", 1)))
	require.NoError(t, g.AddNode(output("c", 2)))
	require.NoError(t, g.AddNode(output("d", 3)))
	require.NoError(t, g.DeclareStaticEdge("b", "a"))
	require.NoError(t, g.DeclareStaticEdge("c", "b"))
	require.NoError(t, g.DeclareStaticEdge("d", "c"))

	assert.Equal(t, []string{"a", "b", "c"}, g.DependenciesOf("d"))
	assert.Equal(t, []string{"a"}, g.DependenciesOf("b"))
	assert.Empty(t, g.DependenciesOf("a"))
}

func TestChain(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(source("a", 0)))
	require.NoError(t, g.AddNode(output("b", 1)))
	require.NoError(t, g.AddNode(output("c", 2)))
	require.NoError(t, g.DeclareStaticEdge("b", "a"))
	require.NoError(t, g.DeclareStaticEdge("c", "b"))

	assert.Equal(t, []string{"c", "b", "a"}, g.Chain("c", "a"))
	assert.Nil(t, g.Chain("b", "c"))
}

func TestBuildFromModel(t *testing.T) {
	model := &ruleset.Model{
		Nodes: []*node.Node{
			source("a", 0),
			output("b", 1),
			output("c", 2),
		},
		StaticInputs: map[string][]string{
			"b": {"a"},
			"c": {"b", "a"},
		},
	}

	g, err := Build(context.Background(), model)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, g.Dependencies("b"))
	assert.Equal(t, []string{"a", "b"}, g.Dependencies("c"))

	t.Run("unknown static input fails", func(t *testing.T) {
		model.StaticInputs["c"] = []string{"ghost"}
		_, err := Build(context.Background(), model)
		assert.ErrorContains(t, err, "input node not found")
	})
}
