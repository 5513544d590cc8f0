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
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/NervanaSystems/model-analysis/types/tensors"
	"github.com/gomlx/exceptions"
)

// Placeholder creates an input node of the given shape to be fed at
// evaluation time. The name is uniquified if already taken.
func Placeholder(g *Graph, shape shapes.Shape, name string) *Node {
	if !shape.Ok() {
		exceptions.Panicf("Placeholder(%q): invalid shape", name)
	}
	return g.addNode(OpPlaceholder, name, shape)
}

// Const creates a constant node with the given value.
func Const(g *Graph, value *tensors.Tensor) *Node {
	node := g.addNode(OpConst, "", value.Shape())
	node.value = value
	return node
}

// ConstScalar creates a scalar constant node.
func ConstScalar[T tensors.Supported](g *Graph, value T) *Node {
	return Const(g, tensors.FromScalar(value))
}

// ConstValue returns the value of an OpConst node, nil for any other op.
func (n *Node) ConstValue() *tensors.Tensor { return n.value }

// Identity creates a transparent pass-through node computing the same value
// as its input. The new node is a distinct graph location: feeding or fetching
// it is independent of the wrapped node.
func Identity(input *Node) *Node {
	return input.graph.addNode(OpIdentity, "", input.shape, input)
}

// Variable creates a named variable node of the given shape. The value is
// provided by a Session (typically restored from a checkpoint). It panics if
// the graph already has a variable with the same name.
func Variable(g *Graph, name string, shape shapes.Shape) *Node {
	if name == "" {
		exceptions.Panicf("Variable: name must not be empty")
	}
	if _, found := g.variables[name]; found {
		exceptions.Panicf("Variable(%q): graph %q already has a variable with this name", name, g.name)
	}
	node := g.addNode(OpVariable, name, shape)
	node.varName = name
	g.variables[name] = node
	return node
}

// NoOp creates a node that computes nothing; it exists to name a set of
// control dependencies, e.g. an initialization op.
func NoOp(g *Graph, name string, deps ...*Node) *Node {
	return g.addNode(OpNoOp, name, shapes.Shape{}, deps...)
}

// LocalVariablesInitializer returns the graph's default local-initialization
// op, creating it on first use. It is the op a loaded artifact runs before the
// first evaluation to reset local state such as metric accumulators.
func LocalVariablesInitializer(g *Graph) *Node {
	const name = "init_all_local"
	if node := g.NodeByName(name); node != nil {
		return node
	}
	return NoOp(g, name)
}
