package exporter

import (
	"testing"

	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/NervanaSystems/model-analysis/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapInIdentitySingle(t *testing.T) {
	g := graph.New("test")
	node := graph.Placeholder(g, shapes.Make(shapes.Float32, shapes.UnknownDim), "x")
	wrapped := WrapInIdentity(graph.SingleNode(node))

	wrappedNode := wrapped.Single()
	require.NotNil(t, wrappedNode)
	assert.NotSame(t, node, wrappedNode, "the wrapper is a distinct graph location")
	assert.Equal(t, graph.OpIdentity, wrappedNode.Op())

	// Same value: the wrapper is transparent at evaluation time.
	session := graph.NewSession(g)
	fed := tensors.FromFlat([]float32{1, 2}, 2)
	value, err := session.Run(wrappedNode, graph.Feeds{node: fed})
	require.NoError(t, err)
	assert.True(t, fed.Equal(value))
}

func TestWrapInIdentityMap(t *testing.T) {
	g := graph.New("test")
	m := graph.NewNodeMap()
	m.Set("b", graph.Placeholder(g, shapes.Make(shapes.Float32, shapes.UnknownDim), "b"))
	m.Set("a", graph.Placeholder(g, shapes.Make(shapes.Int64, shapes.UnknownDim), "a"))
	wrapped := WrapInIdentity(graph.MapOfNodes(m))

	require.True(t, wrapped.IsMap())
	assert.Equal(t, []string{"b", "a"}, wrapped.Map().Keys(), "keys and order preserved")
	for name, wrappedNode := range wrapped.Map().All() {
		original, _ := m.Get(name)
		assert.NotSame(t, original, wrappedNode)
		assert.Equal(t, graph.OpIdentity, wrappedNode.Op())
		assert.True(t, wrappedNode.Shape().Eq(original.Shape()))
	}
}

func TestWrapInIdentityEmpty(t *testing.T) {
	var empty graph.NodeOrMap
	assert.True(t, WrapInIdentity(empty).IsEmpty())
}
