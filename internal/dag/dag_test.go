package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("a")
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "a", nodeA.id)

	g.AddNode("a") // Test idempotency
	assert.Len(t, g.nodes, 1)
	assert.Equal(t, []string{"a"}, g.order)

	g.AddNode("b")
	assert.Len(t, g.nodes, 2)
	assert.True(t, g.Has("b"))
	assert.False(t, g.Has("c"))
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("a", "b") // b depends on a
		require.NoError(t, err)
		require.NoError(t, g.AddEdge("a", "b"), "duplicate edges are ignored")

		deps, err := g.Dependencies("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, deps)

		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, dependents)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("dne", "a")
		assert.ErrorContains(t, err, "source node not found")

		err = g.AddEdge("a", "dne")
		assert.ErrorContains(t, err, "destination node not found")

		err = g.AddEdge("a", "a")
		assert.ErrorContains(t, err, "self-referential edge")

		_, err = g.Dependencies("dne")
		assert.ErrorContains(t, err, "node not found")
	})
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		g := New()
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "c", "d"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("a", "c")) // Transitive edge
		require.NoError(t, g.AddEdge("c", "d"))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("simple direct cycle is detected", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))
		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))

		g.AddNode("x")
		g.AddNode("y")
		g.AddNode("z")
		require.NoError(t, g.AddEdge("x", "y"))
		require.NoError(t, g.AddEdge("y", "z"))
		require.NoError(t, g.AddEdge("z", "y"))

		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})
}

func TestTopologicalOrder(t *testing.T) {
	t.Run("fan-in graph orders dependencies first", func(t *testing.T) {
		// Arrange: the purchase pipeline shape, declared out of order.
		g := New()
		for _, id := range []string{"model", "quality_users", "transform", "extract_users", "extract_sessions", "quality_sessions"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("extract_users", "transform"))
		require.NoError(t, g.AddEdge("extract_sessions", "transform"))
		require.NoError(t, g.AddEdge("transform", "quality_users"))
		require.NoError(t, g.AddEdge("transform", "quality_sessions"))
		require.NoError(t, g.AddEdge("quality_users", "model"))
		require.NoError(t, g.AddEdge("quality_sessions", "model"))

		// Act
		order, err := g.TopologicalOrder()

		// Assert
		require.NoError(t, err)
		require.Len(t, order, 6)
		pos := make(map[string]int)
		for i, id := range order {
			pos[id] = i
		}
		assert.Less(t, pos["extract_users"], pos["transform"])
		assert.Less(t, pos["extract_sessions"], pos["transform"])
		assert.Less(t, pos["transform"], pos["quality_users"])
		assert.Less(t, pos["transform"], pos["quality_sessions"])
		assert.Less(t, pos["quality_users"], pos["model"])
		assert.Less(t, pos["quality_sessions"], pos["model"])
	})

	t.Run("order is stable", func(t *testing.T) {
		build := func() *Graph {
			g := New()
			g.AddNode("b")
			g.AddNode("a")
			g.AddNode("c")
			require.NoError(t, g.AddEdge("a", "c"))
			return g
		}
		first, err := build().TopologicalOrder()
		require.NoError(t, err)
		second, err := build().TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, []string{"b", "a", "c"}, first)
	})

	t.Run("cycle is rejected", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))
		_, err := g.TopologicalOrder()
		assert.ErrorContains(t, err, "cycle detected")
	})
}
