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

// Package shapes defines Shape and DType and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of either a tensor
// value or the expected shape of a node in a computation graph. DType
// indicates the type of the unit element.
//
// Unlike a concrete tensor, a graph node may have axes whose dimension is
// only known at evaluation time (e.g. the batch axis of an input
// placeholder). Those are represented with dimension -1 (see UnknownDim).
//
// Float16 support uses the github.com/x448/float16 implementation.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// DType is the data type of the unit element of a tensor or graph node.
type DType int8

const (
	InvalidDType DType = iota
	Bool
	Int32
	Int64
	Float16
	Float32
	Float64

	// String holds arbitrary byte strings. It is a valid element type for
	// placeholders and parsed features, but has no fixed byte size, so it
	// cannot be laid out in the raw binary section of a checkpoint.
	String
)

// dtypeNames must be indexed by the DType constants above.
var dtypeNames = []string{"invalid", "bool", "int32", "int64", "float16", "float32", "float64", "string"}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || int(dtype) >= len(dtypeNames) {
		return fmt.Sprintf("DType(%d)", int(dtype))
	}
	return dtypeNames[dtype]
}

// DTypeFromString is the inverse of DType.String. It returns InvalidDType if
// the name is unknown -- e.g. an artifact written by a newer library version.
func DTypeFromString(name string) DType {
	for ii, dtypeName := range dtypeNames {
		if name == dtypeName {
			return DType(ii)
		}
	}
	return InvalidDType
}

// Size returns the size in bytes of one element of the given DType. It panics
// for String and invalid dtypes, which have no fixed element size.
func (dtype DType) Size() int {
	switch dtype {
	case Bool:
		return 1
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	case Float16:
		return 2
	}
	exceptions.Panicf("shapes: DType %s has no fixed byte size", dtype)
	return 0
}

// IsFloat returns whether dtype is a float type.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is an integer type.
func (dtype DType) IsInt() bool {
	return dtype == Int32 || dtype == Int64
}

// IsNumeric returns whether dtype has a fixed-size binary representation --
// everything but String (and invalid values).
func (dtype DType) IsNumeric() bool {
	return dtype.IsFloat() || dtype.IsInt() || dtype == Bool
}

// UnknownDim is the value used for an axis whose dimension is only known at
// evaluation time.
const UnknownDim = -1

// Shape represents the shape of either a tensor or the expected shape of the
// value from a computation node.
//
// Use Make to create a new shape.
type Shape struct {
	DType      DType
	Dimensions []int
}

// Make returns a Shape filled with the values given. Dimensions must be
// positive or UnknownDim. It panics on invalid dimensions -- an API misuse,
// not a recoverable condition.
func Make(dtype DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 && dim != UnknownDim {
			exceptions.Panicf("shapes.Make(%s): dimensions must be positive or UnknownDim, got %v", dtype, dimensions)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given dtype.
func Scalar(dtype DType) Shape {
	return Shape{DType: dtype}
}

// Ok returns whether this is a valid Shape. The zero value Shape{} is invalid.
func (s Shape) Ok() bool { return s.DType != InvalidDType }

// Rank returns the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// IsFullyDefined returns whether no axis has an unknown dimension.
func (s Shape) IsFullyDefined() bool {
	return !slices.Contains(s.Dimensions, UnknownDim)
}

// Size returns the number of elements. It panics if the shape is not fully
// defined.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			exceptions.Panicf("shapes: Size() of shape %s with unknown dimensions", s)
		}
		size *= dim
	}
	return size
}

// Memory returns the size in bytes to store the shape's elements. Panics for
// String dtype or shapes with unknown dimensions.
func (s Shape) Memory() int {
	return s.Size() * s.DType.Size()
}

// Eq compares two shapes for equality: dtype and dimensions.
func (s Shape) Eq(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.IsScalar() {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts = append(parts, "?")
		} else {
			parts = append(parts, fmt.Sprintf("%d", dim))
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
