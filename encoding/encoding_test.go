package encoding

import (
	"fmt"
	"testing"

	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeCollectionRoundTrip(t *testing.T) {
	// Register 0..4 entries and check the decoded mapping preserves the keys,
	// the order and the node references.
	for numEntries := 0; numEntries < 5; numEntries++ {
		g := graph.New("test")
		c := g.Collections()
		wantKeys := make([]string, 0, numEntries)
		for ii := 0; ii < numEntries; ii++ {
			key := fmt.Sprintf("output_%d", ii)
			node := graph.Placeholder(g, shapes.Make(shapes.Float32, shapes.UnknownDim, ii+1), key)
			RegisterNode(c, PredictionsCollection, key, node)
			wantKeys = append(wantKeys, key)
		}
		decoded, err := DecodeNodeCollection(c, PredictionsCollection)
		require.NoError(t, err)
		assert.Equal(t, wantKeys, decoded.Keys())
		for ii, key := range wantKeys {
			info, found := decoded.Get(key)
			require.True(t, found)
			assert.Equal(t, key, info.Name)
			assert.Equal(t, "float32", info.DType)
			shape, err := info.Shape()
			require.NoError(t, err)
			assert.True(t, shape.Eq(shapes.Make(shapes.Float32, shapes.UnknownDim, ii+1)))
		}
	}
}

func TestNodeCollectionLengthMismatch(t *testing.T) {
	g := graph.New("test")
	c := g.Collections()
	node := graph.Placeholder(g, shapes.Scalar(shapes.Float32), "x")
	RegisterNode(c, FeaturesCollection, "f1", node)
	// A key without its paired node breaks the zip invariant.
	c.Add(BucketName(FeaturesCollection, KeySuffix), EncodeKey("orphan"))
	_, err := DecodeNodeCollection(c, FeaturesCollection)
	assert.ErrorContains(t, err, "2 keys but 1 nodes")
}

func TestMetricCollectionRoundTrip(t *testing.T) {
	g := graph.New("test")
	c := g.Collections()
	for _, name := range []string{"accuracy", "auc"} {
		value := graph.Variable(g, name+"/value", shapes.Scalar(shapes.Float32))
		update := graph.NoOp(g, name+"/update")
		RegisterMetric(c, name, value, update)
	}
	decoded, err := DecodeMetricCollection(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"accuracy", "auc"}, decoded.Keys())
	accuracy, found := decoded.Get("accuracy")
	require.True(t, found)
	assert.Equal(t, "accuracy/value", accuracy.ValueOp.Name)
	assert.Equal(t, "accuracy/update", accuracy.UpdateOp.Name)

	c.Add(BucketName(MetricsCollection, KeySuffix), EncodeKey("orphan"))
	_, err = DecodeMetricCollection(c)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	c := graph.NewCollections()
	_, found := DecodeVersion(c)
	assert.False(t, found)
	RegisterVersion(c, "0.1.0")
	got, found := DecodeVersion(c)
	require.True(t, found)
	assert.Equal(t, "0.1.0", got)
}

func TestInputExample(t *testing.T) {
	g := graph.New("test")
	c := g.Collections()
	_, err := DecodeInputExample(c)
	assert.Error(t, err, "no entry registered yet")

	node := graph.Placeholder(g, shapes.Make(shapes.String, shapes.UnknownDim), "input_example_tensor")
	RegisterInputExample(c, node)
	info, err := DecodeInputExample(c)
	require.NoError(t, err)
	assert.Equal(t, "input_example_tensor", info.Name)
	assert.Equal(t, "string", info.DType)

	RegisterInputExample(c, node)
	_, err = DecodeInputExample(c)
	assert.Error(t, err, "two entries are as broken as zero")
}

func TestDecodeTensorNodeErrors(t *testing.T) {
	_, err := DecodeTensorNode([]byte("not json"))
	assert.Error(t, err)
	_, err = NodeInfo{Name: "x", DType: "complex128"}.Shape()
	assert.ErrorContains(t, err, "unknown dtype")
}
