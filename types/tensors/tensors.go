/*
 *	Copyright 2024 Nervana Systems
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package tensors provides the Tensor type, a dense in-host (CPU) tensor value
// with an associated shapes.Shape.
//
// It is the value type moved between checkpoints, the reference session and
// the serialized-model artifact. Numeric tensors serialize to/from raw
// little-endian bytes (the format used by the checkpoint and variables files);
// string tensors only exist in-memory, as inputs and parsed features.
package tensors

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Supported are the Go types a Tensor can hold elements of.
type Supported interface {
	bool | int32 | int64 | float16.Float16 | float32 | float64 | string
}

// Tensor is a dense in-host tensor value. It is immutable by convention: the
// library never mutates a Tensor after creation.
type Tensor struct {
	shape shapes.Shape
	flat  any // []T with T matching shape.DType, len == shape.Size().
}

// dtypeOf maps the generic type parameter to its DType.
func dtypeOf[T Supported]() shapes.DType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return shapes.Bool
	case int32:
		return shapes.Int32
	case int64:
		return shapes.Int64
	case float16.Float16:
		return shapes.Float16
	case float32:
		return shapes.Float32
	case float64:
		return shapes.Float64
	case string:
		return shapes.String
	}
	return shapes.InvalidDType
}

// FromFlat creates a Tensor with the given flat values and dimensions. The
// flat slice is cloned. It panics if len(flat) doesn't match the dimensions
// -- an API misuse, not a recoverable condition.
func FromFlat[T Supported](flat []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypeOf[T](), dimensions...)
	if shape.Size() != len(flat) {
		exceptions.Panicf("tensors.FromFlat: shape %s requires %d values, got %d", shape, shape.Size(), len(flat))
	}
	return &Tensor{shape: shape, flat: slices.Clone(flat)}
}

// FromScalar creates a scalar Tensor with the given value.
func FromScalar[T Supported](value T) *Tensor {
	return &Tensor{shape: shapes.Scalar(dtypeOf[T]()), flat: []T{value}}
}

// FromShape creates a zero-initialized Tensor of the given shape. The shape
// must be fully defined.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.IsFullyDefined() {
		exceptions.Panicf("tensors.FromShape: shape %s is not fully defined", shape)
	}
	t := &Tensor{shape: shape}
	size := shape.Size()
	switch shape.DType {
	case shapes.Bool:
		t.flat = make([]bool, size)
	case shapes.Int32:
		t.flat = make([]int32, size)
	case shapes.Int64:
		t.flat = make([]int64, size)
	case shapes.Float16:
		t.flat = make([]float16.Float16, size)
	case shapes.Float32:
		t.flat = make([]float32, size)
	case shapes.Float64:
		t.flat = make([]float64, size)
	case shapes.String:
		t.flat = make([]string, size)
	default:
		exceptions.Panicf("tensors.FromShape: unsupported dtype in shape %s", shape)
	}
	return t
}

// Shape of the Tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the Tensor's elements.
func (t *Tensor) DType() shapes.DType { return t.shape.DType }

// Flat returns the tensor's flat values. It panics if T doesn't match the
// tensor's dtype. The returned slice is owned by the Tensor, don't change it.
func Flat[T Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.Flat[%s]: tensor has dtype %s", dtypeOf[T](), t.DType())
	}
	return flat
}

// ToScalar returns the value of a scalar (or single-element) Tensor.
func ToScalar[T Supported](t *Tensor) T {
	flat := Flat[T](t)
	if len(flat) != 1 {
		exceptions.Panicf("tensors.ToScalar: tensor shaped %s has %d elements", t.shape, len(flat))
	}
	return flat[0]
}

// Equal returns whether two tensors have the same shape and the same values.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.shape.Eq(other.shape) {
		return false
	}
	switch t.DType() {
	case shapes.Bool:
		return slices.Equal(Flat[bool](t), Flat[bool](other))
	case shapes.Int32:
		return slices.Equal(Flat[int32](t), Flat[int32](other))
	case shapes.Int64:
		return slices.Equal(Flat[int64](t), Flat[int64](other))
	case shapes.Float16:
		return slices.Equal(Flat[float16.Float16](t), Flat[float16.Float16](other))
	case shapes.Float32:
		return slices.Equal(Flat[float32](t), Flat[float32](other))
	case shapes.Float64:
		return slices.Equal(Flat[float64](t), Flat[float64](other))
	case shapes.String:
		return slices.Equal(Flat[string](t), Flat[string](other))
	}
	return false
}

// Bytes serializes the tensor's values to raw little-endian bytes, the layout
// used in checkpoint and variables data files. String tensors have no raw
// layout and return an error.
func (t *Tensor) Bytes() ([]byte, error) {
	if !t.DType().IsNumeric() {
		return nil, errors.Errorf("tensor with dtype %s cannot be serialized to raw bytes", t.DType())
	}
	data := make([]byte, 0, t.shape.Memory())
	switch t.DType() {
	case shapes.Bool:
		for _, v := range Flat[bool](t) {
			if v {
				data = append(data, 1)
			} else {
				data = append(data, 0)
			}
		}
	case shapes.Int32:
		for _, v := range Flat[int32](t) {
			data = binary.LittleEndian.AppendUint32(data, uint32(v))
		}
	case shapes.Int64:
		for _, v := range Flat[int64](t) {
			data = binary.LittleEndian.AppendUint64(data, uint64(v))
		}
	case shapes.Float16:
		for _, v := range Flat[float16.Float16](t) {
			data = binary.LittleEndian.AppendUint16(data, v.Bits())
		}
	case shapes.Float32:
		for _, v := range Flat[float32](t) {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
	case shapes.Float64:
		for _, v := range Flat[float64](t) {
			data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
		}
	}
	return data, nil
}

// FromBytes deserializes a Tensor of the given shape from raw little-endian
// bytes, the inverse of Tensor.Bytes.
func FromBytes(shape shapes.Shape, data []byte) (*Tensor, error) {
	if !shape.DType.IsNumeric() {
		return nil, errors.Errorf("tensor with dtype %s cannot be deserialized from raw bytes", shape.DType)
	}
	if !shape.IsFullyDefined() {
		return nil, errors.Errorf("cannot deserialize tensor with partially unknown shape %s", shape)
	}
	if want := shape.Memory(); len(data) != want {
		return nil, errors.Errorf("shape %s requires %d bytes, got %d", shape, want, len(data))
	}
	t := FromShape(shape)
	size := shape.Size()
	switch shape.DType {
	case shapes.Bool:
		flat := Flat[bool](t)
		for ii := 0; ii < size; ii++ {
			flat[ii] = data[ii] != 0
		}
	case shapes.Int32:
		flat := Flat[int32](t)
		for ii := 0; ii < size; ii++ {
			flat[ii] = int32(binary.LittleEndian.Uint32(data[ii*4:]))
		}
	case shapes.Int64:
		flat := Flat[int64](t)
		for ii := 0; ii < size; ii++ {
			flat[ii] = int64(binary.LittleEndian.Uint64(data[ii*8:]))
		}
	case shapes.Float16:
		flat := Flat[float16.Float16](t)
		for ii := 0; ii < size; ii++ {
			flat[ii] = float16.Frombits(binary.LittleEndian.Uint16(data[ii*2:]))
		}
	case shapes.Float32:
		flat := Flat[float32](t)
		for ii := 0; ii < size; ii++ {
			flat[ii] = math.Float32frombits(binary.LittleEndian.Uint32(data[ii*4:]))
		}
	case shapes.Float64:
		flat := Flat[float64](t)
		for ii := 0; ii < size; ii++ {
			flat[ii] = math.Float64frombits(binary.LittleEndian.Uint64(data[ii*8:]))
		}
	}
	return t, nil
}

// String implements fmt.Stringer. It prints the shape and, for small tensors,
// the values.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	const maxElements = 16
	if t.shape.Size() > maxElements {
		return fmt.Sprintf("Tensor%s{...%d values...}", t.shape, t.shape.Size())
	}
	return fmt.Sprintf("Tensor%s%v", t.shape, t.flat)
}
