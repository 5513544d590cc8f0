package shapes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDType(t *testing.T) {
	for _, dtype := range []DType{Bool, Int32, Int64, Float16, Float32, Float64, String} {
		assert.Equal(t, dtype, DTypeFromString(dtype.String()))
	}
	assert.Equal(t, InvalidDType, DTypeFromString("no_such_dtype"))

	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Int64.Size())
	assert.Equal(t, 2, Float16.Size())
	assert.Panics(t, func() { String.Size() })

	assert.True(t, Float16.IsFloat())
	assert.True(t, Int32.IsInt())
	assert.True(t, Bool.IsNumeric())
	assert.False(t, String.IsNumeric())
}

func TestShape(t *testing.T) {
	s := Make(Float32, 2, 3)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, 24, s.Memory())
	assert.True(t, s.IsFullyDefined())
	assert.Equal(t, "(float32)[2 3]", s.String())

	scalar := Scalar(Int64)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
	assert.Equal(t, "(int64)", scalar.String())

	batch := Make(String, UnknownDim)
	assert.False(t, batch.IsFullyDefined())
	assert.Equal(t, "(string)[?]", batch.String())
	assert.Panics(t, func() { batch.Size() })

	assert.True(t, Make(Float32, 2, 3).Eq(s))
	assert.False(t, Make(Float64, 2, 3).Eq(s))
	assert.False(t, Make(Float32, 3, 2).Eq(s))

	require.False(t, Shape{}.Ok())
	assert.Panics(t, func() { Make(Float32, 0) })
	assert.Panics(t, func() { Make(Float32, -2) })
}
