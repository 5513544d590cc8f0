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

// Package encoding defines how semantically relevant graph nodes (features,
// labels, predictions, metric ops, the input placeholder) are tagged into the
// graph's metadata collections, and how a loader recovers them from the
// serialized artifact alone.
//
// Each logical group of nodes lives under a collection prefix (e.g.
// "predictions") with parallel buckets per role suffix: "<prefix>/key" holds
// the encoded string keys and "<prefix>/node" the encoded node references, in
// matching positional order. Metrics use two node buckets,
// "metrics/value_op" and "metrics/update_op", for the accumulator pair.
// Decoding zips the parallel buckets back into an ordered mapping, so
// registration order is load-bearing: for every logical entry the key and
// node entries must be appended as a pair, strictly FIFO per bucket.
//
// The encoded forms are self-describing: keys are the raw string bytes, node
// references are a small JSON record (name, dtype, dimensions), so a consumer
// can decode them without access to any graph-construction code. Evolution of
// the bucket set is additive-only, to preserve backward decodability.
package encoding

import (
	"encoding/json"

	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Collection names and role suffixes of the exported artifact. These are wire
// constants: changing any of them breaks decodability of older artifacts.
const (
	// VersionCollection holds the single library version marker.
	VersionCollection = "tfma_version"

	MetricsCollection     = "metrics"
	PredictionsCollection = "predictions"
	LabelsCollection      = "labels"
	FeaturesCollection    = "features"

	// InputExampleCollection holds the single encoded reference to the
	// serialized-example input placeholder.
	InputExampleCollection = "input_example"

	KeySuffix      = "key"
	NodeSuffix     = "node"
	ValueOpSuffix  = "value_op"
	UpdateOpSuffix = "update_op"
)

// Default keys used when a bare (non-mapping) value is normalized to a
// single-entry mapping.
const (
	DefaultPredictionsKey = "predictions"
	DefaultLabelsKey      = "labels"
	DefaultFeaturesKey    = "features"
)

// EvalTag is the meta-graph tag of exported eval artifacts. Eval artifacts
// carry no serving signatures; the tag is how a loader selects the right
// meta-graph.
const EvalTag = "eval"

// BucketName joins a collection prefix and a role suffix.
func BucketName(prefix, suffix string) string {
	return prefix + "/" + suffix
}

// EncodeKey encodes a string key for storage in a "key" bucket.
func EncodeKey(key string) []byte {
	return []byte(key)
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(encoded []byte) string {
	return string(encoded)
}

// NodeInfo is the decoded reference to one graph node: enough to locate the
// node in the serialized graph and know the shape of its value.
type NodeInfo struct {
	Name       string `json:"name"`
	DType      string `json:"dtype"`
	Dimensions []int  `json:"dims,omitempty"`
}

// Shape reconstructs the node's shape. It returns an error if the dtype name
// is unknown, which signals an artifact from an incompatible library version.
func (info NodeInfo) Shape() (shapes.Shape, error) {
	dtype := shapes.DTypeFromString(info.DType)
	if dtype == shapes.InvalidDType {
		return shapes.Shape{}, errors.Errorf("node %q has unknown dtype %q", info.Name, info.DType)
	}
	return shapes.Shape{DType: dtype, Dimensions: info.Dimensions}, nil
}

// EncodeTensorNode encodes a reference to the given node for storage in a
// "node", "value_op" or "update_op" bucket.
func EncodeTensorNode(node *graph.Node) []byte {
	info := NodeInfo{
		Name:       node.Name(),
		DType:      node.DType().String(),
		Dimensions: node.Shape().Dimensions,
	}
	encoded, err := json.Marshal(info)
	if err != nil {
		exceptions.Panicf("encoding node %s: %v", node, err)
	}
	return encoded
}

// DecodeTensorNode is the inverse of EncodeTensorNode.
func DecodeTensorNode(encoded []byte) (NodeInfo, error) {
	var info NodeInfo
	if err := json.Unmarshal(encoded, &info); err != nil {
		return NodeInfo{}, errors.Wrapf(err, "decoding node reference %q", encoded)
	}
	return info, nil
}

// RegisterNode appends one KEY entry and one NODE entry for (key, node), in
// that order, under the given collection prefix. Entries must be registered
// in the order the decoded mapping should iterate.
func RegisterNode(c *graph.Collections, prefix, key string, node *graph.Node) {
	c.Add(BucketName(prefix, KeySuffix), EncodeKey(key))
	c.Add(BucketName(prefix, NodeSuffix), EncodeTensorNode(node))
}

// RegisterMetric appends the KEY, VALUE_OP and UPDATE_OP entries for one
// metric accumulator pair, in that order, under the metrics collection.
func RegisterMetric(c *graph.Collections, key string, valueOp, updateOp *graph.Node) {
	c.Add(BucketName(MetricsCollection, KeySuffix), EncodeKey(key))
	c.Add(BucketName(MetricsCollection, ValueOpSuffix), EncodeTensorNode(valueOp))
	c.Add(BucketName(MetricsCollection, UpdateOpSuffix), EncodeTensorNode(updateOp))
}

// RegisterVersion records the library version marker. Recorded exactly once
// per export.
func RegisterVersion(c *graph.Collections, versionString string) {
	c.Add(VersionCollection, []byte(versionString))
}

// RegisterInputExample records the canonical serialized-example input
// placeholder.
func RegisterInputExample(c *graph.Collections, node *graph.Node) {
	c.Add(InputExampleCollection, EncodeTensorNode(node))
}

// DecodeVersion returns the recorded version marker. found is false for
// artifacts produced by a pre-versioning (incompatible) exporter.
func DecodeVersion(c *graph.Collections) (versionString string, found bool) {
	entries := c.Get(VersionCollection)
	if len(entries) == 0 {
		return "", false
	}
	return string(entries[0]), true
}

// DecodeNodeCollection zips the "<prefix>/key" and "<prefix>/node" buckets
// back into the ordered mapping that was registered. Absent buckets decode as
// an empty mapping; buckets of different lengths mean the pairing invariant
// was broken and decode fails.
func DecodeNodeCollection(c *graph.Collections, prefix string) (*types.OrderedMap[NodeInfo], error) {
	keys := c.Get(BucketName(prefix, KeySuffix))
	nodes := c.Get(BucketName(prefix, NodeSuffix))
	if len(keys) != len(nodes) {
		return nil, errors.Errorf("collection %q has %d keys but %d nodes", prefix, len(keys), len(nodes))
	}
	decoded := types.NewOrderedMap[NodeInfo]()
	for ii := range keys {
		info, err := DecodeTensorNode(nodes[ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "collection %q entry #%d", prefix, ii)
		}
		decoded.Set(DecodeKey(keys[ii]), info)
	}
	return decoded, nil
}

// MetricInfo is the decoded accumulator pair of one metric: the node holding
// the current aggregate value and the op that advances it with one batch.
type MetricInfo struct {
	ValueOp  NodeInfo
	UpdateOp NodeInfo
}

// DecodeMetricCollection zips the metrics buckets back into the ordered
// mapping of metric accumulator pairs that was registered.
func DecodeMetricCollection(c *graph.Collections) (*types.OrderedMap[MetricInfo], error) {
	keys := c.Get(BucketName(MetricsCollection, KeySuffix))
	valueOps := c.Get(BucketName(MetricsCollection, ValueOpSuffix))
	updateOps := c.Get(BucketName(MetricsCollection, UpdateOpSuffix))
	if len(keys) != len(valueOps) || len(keys) != len(updateOps) {
		return nil, errors.Errorf("metrics collection has %d keys, %d value ops and %d update ops",
			len(keys), len(valueOps), len(updateOps))
	}
	decoded := types.NewOrderedMap[MetricInfo]()
	for ii := range keys {
		valueInfo, err := DecodeTensorNode(valueOps[ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "metrics value op #%d", ii)
		}
		updateInfo, err := DecodeTensorNode(updateOps[ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "metrics update op #%d", ii)
		}
		decoded.Set(DecodeKey(keys[ii]), MetricInfo{ValueOp: valueInfo, UpdateOp: updateInfo})
	}
	return decoded, nil
}

// DecodeInputExample returns the decoded reference to the input-example
// placeholder. It fails if the artifact recorded none or more than one.
func DecodeInputExample(c *graph.Collections) (NodeInfo, error) {
	entries := c.Get(InputExampleCollection)
	if len(entries) != 1 {
		return NodeInfo{}, errors.Errorf("artifact has %d input-example entries, expected exactly 1", len(entries))
	}
	return DecodeTensorNode(entries[0])
}
