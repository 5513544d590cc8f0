package exporter

import (
	"testing"

	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParsingReceiverFn(t *testing.T) {
	spec := graph.FeatureSpec{
		graph.FixedLenFeature("age", shapes.Float32),
		graph.FixedLenFeature("label", shapes.Float32),
	}
	receiverFn, err := BuildParsingReceiverFn(spec, "label")
	require.NoError(t, err)

	g := graph.New("test")
	receiver, err := receiverFn(g)
	require.NoError(t, err)

	serialized, found := receiver.ReceiverTensors.Get(ExamplesKey)
	require.True(t, found)
	assert.Equal(t, InputExamplePlaceholderName, serialized.Name())
	assert.True(t, serialized.Shape().Eq(shapes.Make(shapes.String, shapes.UnknownDim)))

	// All parsed features are exposed, the label included.
	features := receiver.Features.Map()
	require.NotNil(t, features)
	assert.Equal(t, []string{"age", "label"}, features.Keys())

	// The label is the parsed feature itself, not a copy.
	labelFeature, _ := features.Get("label")
	assert.Same(t, labelFeature, receiver.Labels.Single())
}

func TestBuildParsingReceiverFnBadLabelKey(t *testing.T) {
	spec := graph.FeatureSpec{graph.FixedLenFeature("age", shapes.Float32)}
	_, err := BuildParsingReceiverFn(spec, "no_such_feature")
	assert.ErrorContains(t, err, "not part of the feature spec")
}
