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

package graph

import (
	"slices"

	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/gomlx/exceptions"
)

// FeatureKind distinguishes how a feature is parsed out of a serialized
// example record.
type FeatureKind int8

const (
	// FixedLenFeatureKind features have the same number of values in every
	// example; they parse to a dense tensor of shape [batch, dims...].
	FixedLenFeatureKind FeatureKind = iota + 1

	// VarLenFeatureKind features may have a different number of values per
	// example.
	VarLenFeatureKind
)

// FeatureDef describes one named feature of a FeatureSpec: its parse rule
// (fixed or variable length), element dtype and, for fixed-length features,
// the per-example dimensions.
type FeatureDef struct {
	Name       string
	Kind       FeatureKind
	DType      shapes.DType
	Dimensions []int // Per-example; empty means one value per example.
}

// FixedLenFeature describes a feature with the given per-example dimensions.
// Empty dimensions mean a single value per example.
func FixedLenFeature(name string, dtype shapes.DType, dimensions ...int) FeatureDef {
	return FeatureDef{Name: name, Kind: FixedLenFeatureKind, DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// VarLenFeature describes a feature with a variable number of values per
// example.
func VarLenFeature(name string, dtype shapes.DType) FeatureDef {
	return FeatureDef{Name: name, Kind: VarLenFeatureKind, DType: dtype}
}

// FeatureSpec is an ordered list of feature definitions: the order determines
// the order parsed feature tensors are created and registered in.
type FeatureSpec []FeatureDef

// Find returns the definition of the named feature and whether it exists.
func (spec FeatureSpec) Find(name string) (FeatureDef, bool) {
	for _, def := range spec {
		if def.Name == name {
			return def, true
		}
	}
	return FeatureDef{}, false
}

// ParseExample creates the nodes that parse a batch of serialized example
// records according to spec, one node per feature, returned in spec order.
// The serialized input must be a rank-1 string node (one record per example).
//
// It panics on an invalid spec or input node -- graph-construction errors are
// programming errors.
func ParseExample(serialized *Node, spec FeatureSpec) *NodeMap {
	if serialized.DType() != shapes.String || serialized.Shape().Rank() != 1 {
		exceptions.Panicf("ParseExample: serialized input must be a rank-1 string node, got %s", serialized)
	}
	if len(spec) == 0 {
		exceptions.Panicf("ParseExample: empty feature spec")
	}
	g := serialized.graph
	features := NewNodeMap()
	for ii := range spec {
		def := spec[ii] // Copied, so the node doesn't alias the caller's slice.
		if def.Name == "" || def.DType == shapes.InvalidDType {
			exceptions.Panicf("ParseExample: feature #%d has no name or no dtype", ii)
		}
		if features.Has(def.Name) {
			exceptions.Panicf("ParseExample: duplicate feature %q in spec", def.Name)
		}
		var shape shapes.Shape
		switch def.Kind {
		case FixedLenFeatureKind:
			dims := append([]int{shapes.UnknownDim}, def.Dimensions...)
			shape = shapes.Make(def.DType, dims...)
		case VarLenFeatureKind:
			shape = shapes.Make(def.DType, shapes.UnknownDim, shapes.UnknownDim)
		default:
			exceptions.Panicf("ParseExample: feature %q has invalid kind %d", def.Name, def.Kind)
		}
		node := g.addNode(OpParseExample, "ParseExample/"+def.Name, shape, serialized)
		node.feature = &def
		features.Set(def.Name, node)
	}
	return features
}
