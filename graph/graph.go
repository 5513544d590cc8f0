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

// Package graph provides the graph-construction context used when building a
// model's evaluation graph for export.
//
// The main elements in the package are:
//
//   - Graph: one graph-construction context. A fresh Graph is created per
//     export; it owns the nodes, the named variables and the metadata
//     Collections that end up in the serialized artifact.
//
//   - Node: the result of an op (Placeholder, Const, Identity, Variable,
//     ParseExample, NoOp). Each node has a name unique within its Graph and a
//     shape known at graph-building time (possibly with unknown dimensions).
//
//   - Session: a reference interpreter that evaluates the small op set this
//     package constructs, and holds restored variable values. It exists so
//     exports can restore and snapshot weights, and so graph semantics are
//     testable; it is not a numeric execution engine.
//
// Graph building follows an exceptions model: API misuse (duplicate names,
// mixing nodes of different graphs, invalid shapes) panics via
// exceptions.Panicf. Entry points that run user graph-building callbacks
// convert those panics back to errors with exceptions.TryCatch.
package graph

import (
	"strconv"

	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/gomlx/exceptions"
)

// Graph with the operations and metadata needed to export a computation.
//
// Create one with New. A Graph is not safe for concurrent use: graph
// construction is a single-threaded, per-export activity.
type Graph struct {
	name string

	nodes      []*Node
	nodeByName map[string]*Node
	nameCounts map[string]int

	variables  map[string]*Node
	globalStep *Node

	collections *Collections
	randomSeed  int64
}

// New creates an empty Graph with the given name (used only for error
// messages and logging).
func New(name string) *Graph {
	return &Graph{
		name:        name,
		nodeByName:  make(map[string]*Node),
		nameCounts:  make(map[string]int),
		variables:   make(map[string]*Node),
		collections: NewCollections(),
	}
}

// Name of the Graph.
func (g *Graph) Name() string { return g.name }

// Nodes returns all nodes in creation order. The returned slice is owned by
// the Graph, don't change it.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NodeByName returns the node with the given name, or nil if there is none.
func (g *Graph) NodeByName(name string) *Node { return g.nodeByName[name] }

// Collections returns the graph's metadata store.
func (g *Graph) Collections() *Collections { return g.collections }

// SetRandomSeed records the seed any stochastic op in the graph should use.
// The reference session has no stochastic ops, but the seed is part of the
// graph's configuration and is carried into the artifact.
func (g *Graph) SetRandomSeed(seed int64) { g.randomSeed = seed }

// RandomSeed returns the seed set with SetRandomSeed, 0 if none.
func (g *Graph) RandomSeed() int64 { return g.randomSeed }

// Variables returns the names of the graph's variables, in no particular
// order.
func (g *Graph) Variables() []string {
	names := make([]string, 0, len(g.variables))
	for name := range g.variables {
		names = append(names, name)
	}
	return names
}

// VariableByName returns the variable node registered under name, or nil.
func (g *Graph) VariableByName(name string) *Node { return g.variables[name] }

// GlobalStepName is the variable name under which the global-step counter is
// created, matching the name training checkpoints use.
const GlobalStepName = "global_step"

// CreateGlobalStep creates the global-step counter variable for the graph. It
// panics if the graph already has one.
func CreateGlobalStep(g *Graph) *Node {
	if g.globalStep != nil {
		exceptions.Panicf("graph %q already has a global step", g.name)
	}
	g.globalStep = Variable(g, GlobalStepName, shapes.Scalar(shapes.Int64))
	return g.globalStep
}

// GlobalStep returns the graph's global-step variable, or nil if
// CreateGlobalStep was never called.
func (g *Graph) GlobalStep() *Node { return g.globalStep }

// uniqueName returns base if still unused in the graph, otherwise
// "<base>_<n>" with the smallest n that makes it unique.
func (g *Graph) uniqueName(base string) string {
	name := base
	for {
		if _, found := g.nodeByName[name]; !found {
			return name
		}
		g.nameCounts[base]++
		name = base + "_" + strconv.Itoa(g.nameCounts[base])
	}
}

// addNode registers a new node under the given name (uniquified if needed)
// and returns it.
func (g *Graph) addNode(op OpType, name string, shape shapes.Shape, inputs ...*Node) *Node {
	for _, input := range inputs {
		if input.graph != g {
			exceptions.Panicf("op %s: input node %q belongs to graph %q, not to graph %q",
				op, input.name, input.graph.name, g.name)
		}
	}
	if name == "" {
		name = string(op)
	}
	node := &Node{
		graph:  g,
		id:     len(g.nodes),
		op:     op,
		name:   g.uniqueName(name),
		shape:  shape,
		inputs: inputs,
	}
	g.nodes = append(g.nodes, node)
	g.nodeByName[node.name] = node
	return node
}
