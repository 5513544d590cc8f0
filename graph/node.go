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
	"fmt"

	"github.com/NervanaSystems/model-analysis/types"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/NervanaSystems/model-analysis/types/tensors"
)

// OpType identifies the operation a Node represents. The op type names are
// part of the serialized graph, so they are stable strings.
type OpType string

const (
	OpPlaceholder  OpType = "Placeholder"
	OpConst        OpType = "Const"
	OpIdentity     OpType = "Identity"
	OpVariable     OpType = "Variable"
	OpParseExample OpType = "ParseExample"
	OpNoOp         OpType = "NoOp"
)

// Node represents the result of an operation in a Graph. Nodes are created
// with the op constructors (Placeholder, Const, Identity, ...), never
// directly.
type Node struct {
	graph  *Graph
	id     int
	op     OpType
	name   string
	shape  shapes.Shape
	inputs []*Node

	// Op-specific payloads.
	value   *tensors.Tensor // OpConst.
	feature *FeatureDef     // OpParseExample.
	varName string          // OpVariable.
}

// Graph the node belongs to.
func (n *Node) Graph() *Graph { return n.graph }

// Op type of the node.
func (n *Node) Op() OpType { return n.op }

// Name of the node, unique within its Graph.
func (n *Node) Name() string { return n.name }

// Shape of the node's value. May contain unknown dimensions.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType of the node's value.
func (n *Node) DType() shapes.DType { return n.shape.DType }

// Inputs of the node. The returned slice is owned by the Node, don't change it.
func (n *Node) Inputs() []*Node { return n.inputs }

// VariableName returns the variable name for OpVariable nodes, "" otherwise.
func (n *Node) VariableName() string { return n.varName }

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	return fmt.Sprintf("%s(%q, %s)", n.op, n.name, n.shape)
}

// NodeMap is an ordered mapping from name to Node.
type NodeMap = types.OrderedMap[*Node]

// NewNodeMap returns an empty NodeMap.
func NewNodeMap() *NodeMap { return types.NewOrderedMap[*Node]() }

// NodeOrMap holds either a single Node or a NodeMap: several values in the
// export path (features, labels, predictions) may arrive in either form, and
// this type carries the ambiguity explicitly until the value is normalized
// with AsMap.
type NodeOrMap struct {
	single *Node
	m      *NodeMap
}

// SingleNode wraps one Node as a NodeOrMap.
func SingleNode(node *Node) NodeOrMap { return NodeOrMap{single: node} }

// MapOfNodes wraps a NodeMap as a NodeOrMap.
func MapOfNodes(m *NodeMap) NodeOrMap { return NodeOrMap{m: m} }

// IsMap returns whether the value holds a mapping (as opposed to a single
// node).
func (v NodeOrMap) IsMap() bool { return v.m != nil }

// IsEmpty returns whether the value holds neither a node nor a mapping.
func (v NodeOrMap) IsEmpty() bool { return v.m == nil && v.single == nil }

// Single returns the wrapped Node, nil if the value holds a mapping.
func (v NodeOrMap) Single() *Node { return v.single }

// Map returns the wrapped NodeMap, nil if the value holds a single node.
func (v NodeOrMap) Map() *NodeMap { return v.m }

// AsMap normalizes the value to a mapping: if it already holds one, that same
// mapping is returned unchanged (so normalization is idempotent and
// order-preserving); a single node is returned as a one-entry mapping under
// defaultKey.
func (v NodeOrMap) AsMap(defaultKey string) *NodeMap {
	if v.m != nil {
		return v.m
	}
	m := NewNodeMap()
	if v.single != nil {
		m.Set(defaultKey, v.single)
	}
	return m
}
