package tensors

import (
	"testing"

	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlat(t *testing.T) {
	tensor := FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.True(t, tensor.Shape().Eq(shapes.Make(shapes.Float32, 2, 3)))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, Flat[float32](tensor))
	assert.Panics(t, func() { FromFlat([]float32{1, 2}, 2, 3) })
	assert.Panics(t, func() { Flat[int32](tensor) }, "wrong dtype request must panic")

	// The flat slice is cloned, later changes to the original don't leak in.
	values := []int64{7, 8}
	tensor = FromFlat(values, 2)
	values[0] = 100
	assert.Equal(t, []int64{7, 8}, Flat[int64](tensor))
}

func TestFromScalar(t *testing.T) {
	tensor := FromScalar(int64(17))
	assert.True(t, tensor.Shape().IsScalar())
	assert.Equal(t, int64(17), ToScalar[int64](tensor))
	assert.Panics(t, func() { ToScalar[int64](FromFlat([]int64{1, 2}, 2)) })
}

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(shapes.Float64, 3))
	assert.Equal(t, []float64{0, 0, 0}, Flat[float64](tensor))
	assert.Panics(t, func() { FromShape(shapes.Make(shapes.Float64, shapes.UnknownDim)) })
}

func TestEqual(t *testing.T) {
	a := FromFlat([]float32{1, 2, 3}, 3)
	assert.True(t, a.Equal(FromFlat([]float32{1, 2, 3}, 3)))
	assert.False(t, a.Equal(FromFlat([]float32{1, 2, 4}, 3)))
	assert.False(t, a.Equal(FromFlat([]float32{1, 2, 3}, 1, 3)), "same values, different shape")
	assert.False(t, a.Equal(FromFlat([]float64{1, 2, 3}, 3)), "same values, different dtype")
	var nilTensor *Tensor
	assert.True(t, nilTensor.Equal(nil))
	assert.False(t, a.Equal(nil))
}

func TestBytesRoundTrip(t *testing.T) {
	for _, tensor := range []*Tensor{
		FromFlat([]bool{true, false, true}, 3),
		FromFlat([]int32{-1, 0, 1 << 20}, 3),
		FromFlat([]int64{-1, 1 << 40}, 2),
		FromFlat([]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}, 2),
		FromFlat([]float32{3.14, -1e6}, 2),
		FromScalar(2.718281828),
	} {
		data, err := tensor.Bytes()
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape().Memory(), len(data))
		recovered, err := FromBytes(tensor.Shape(), data)
		require.NoError(t, err)
		assert.True(t, tensor.Equal(recovered), "%s did not round-trip", tensor)
	}
}

func TestBytesErrors(t *testing.T) {
	_, err := FromFlat([]string{"a"}, 1).Bytes()
	assert.Error(t, err, "string tensors have no raw byte layout")
	_, err = FromBytes(shapes.Make(shapes.String, 1), []byte{0})
	assert.Error(t, err)
	_, err = FromBytes(shapes.Make(shapes.Float32, 2), []byte{0, 0, 0, 0})
	assert.Error(t, err, "too few bytes for the shape")
}
