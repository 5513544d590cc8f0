package graph

import (
	"testing"

	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/NervanaSystems/model-analysis/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBasicOps(t *testing.T) {
	g := New("test")
	x := Placeholder(g, shapes.Make(shapes.Float32, shapes.UnknownDim), "x")
	wrapped := Identity(x)
	c := ConstScalar(g, int64(7))
	w := Variable(g, "w", shapes.Make(shapes.Float32, 2))
	initOp := LocalVariablesInitializer(g)

	session := NewSession(g)
	fed := tensors.FromFlat([]float32{1, 2, 3}, 3)

	// Identity computes the same value as the node it wraps.
	value, err := session.Run(wrapped, Feeds{x: fed})
	require.NoError(t, err)
	assert.True(t, fed.Equal(value))

	value, err = session.Run(c, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), tensors.ToScalar[int64](value))

	_, err = session.Run(x, nil)
	assert.ErrorContains(t, err, "was not fed")

	_, err = session.Run(w, nil)
	assert.ErrorContains(t, err, "uninitialized")
	require.NoError(t, session.SetVariable("w", tensors.FromFlat([]float32{5, 6}, 2)))
	value, err = session.Run(w, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6}, tensors.Flat[float32](value))
	assert.Equal(t, []string{"w"}, session.InitializedVariables())

	value, err = session.Run(initOp, nil)
	require.NoError(t, err)
	assert.Nil(t, value, "NoOp evaluates to nil")
}

func TestSessionSetVariableErrors(t *testing.T) {
	g := New("test")
	Variable(g, "w", shapes.Make(shapes.Float32, 2))
	session := NewSession(g)
	assert.Error(t, session.SetVariable("missing", tensors.FromScalar(float32(1))))
	assert.Error(t, session.SetVariable("w", tensors.FromScalar(float32(1))), "shape mismatch")

	other := New("other")
	node := ConstScalar(other, float32(1))
	_, err := session.Run(node, nil)
	assert.ErrorContains(t, err, "belongs to graph")
}

func TestSessionParseExample(t *testing.T) {
	g := New("test")
	serialized := Placeholder(g, shapes.Make(shapes.String, shapes.UnknownDim), "input_example_tensor")
	features := ParseExample(serialized, FeatureSpec{
		FixedLenFeature("age", shapes.Float64),
		FixedLenFeature("embedding", shapes.Float32, 2),
		FixedLenFeature("label", shapes.Int64),
	})
	session := NewSession(g)
	records := tensors.FromFlat([]string{
		`{"age": 34, "embedding": [0.5, -0.5], "label": 1}`,
		`{"age": 21, "embedding": [1, 2], "label": 0}`,
	}, 2)
	feeds := Feeds{serialized: records}

	age, _ := features.Get("age")
	value, err := session.Run(age, feeds)
	require.NoError(t, err)
	assert.True(t, value.Shape().Eq(shapes.Make(shapes.Float64, 2)))
	assert.Equal(t, []float64{34, 21}, tensors.Flat[float64](value))

	embedding, _ := features.Get("embedding")
	value, err = session.Run(embedding, feeds)
	require.NoError(t, err)
	assert.True(t, value.Shape().Eq(shapes.Make(shapes.Float32, 2, 2)))
	assert.Equal(t, []float32{0.5, -0.5, 1, 2}, tensors.Flat[float32](value))

	label, _ := features.Get("label")
	value, err = session.Run(label, feeds)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, tensors.Flat[int64](value))
}

func TestSessionParseExampleErrors(t *testing.T) {
	g := New("test")
	serialized := Placeholder(g, shapes.Make(shapes.String, shapes.UnknownDim), "input_example_tensor")
	features := ParseExample(serialized, FeatureSpec{
		FixedLenFeature("age", shapes.Float32),
		VarLenFeature("tags", shapes.String),
	})
	session := NewSession(g)

	age, _ := features.Get("age")
	_, err := session.Run(age, Feeds{serialized: tensors.FromFlat([]string{`not json`}, 1)})
	assert.ErrorContains(t, err, "not a valid record")

	_, err = session.Run(age, Feeds{serialized: tensors.FromFlat([]string{`{"other": 1}`}, 1)})
	assert.ErrorContains(t, err, "no value for feature")

	_, err = session.Run(age, Feeds{serialized: tensors.FromFlat([]string{`{"age": [1, 2]}`}, 1)})
	assert.ErrorContains(t, err, "expected 1")

	tags, _ := features.Get("tags")
	_, err = session.Run(tags, Feeds{serialized: tensors.FromFlat([]string{`{"tags": ["a"]}`}, 1)})
	assert.ErrorContains(t, err, "fixed-length")
}
