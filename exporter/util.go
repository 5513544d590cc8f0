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

package exporter

import "github.com/NervanaSystems/model-analysis/graph"

// WrapInIdentity wraps every node of the value in a transparent pass-through
// node, preserving keys and order for mappings.
//
// A node that is both fed at evaluation time and consumed as-is inside the
// graph can expose stale values to its consumers. The model must therefore
// consume the wrapped nodes while evaluation keeps feeding the originals.
// Wrapping is not idempotent; Export applies it exactly once, to the
// features and labels fresh out of the input receiver. Predictions can't be
// wrapped: they don't exist yet at wrap time, being computed from the
// already-wrapped inputs.
func WrapInIdentity(value graph.NodeOrMap) graph.NodeOrMap {
	if m := value.Map(); m != nil {
		wrapped := graph.NewNodeMap()
		for name, node := range m.All() {
			wrapped.Set(name, graph.Identity(node))
		}
		return graph.MapOfNodes(wrapped)
	}
	if node := value.Single(); node != nil {
		return graph.SingleNode(graph.Identity(node))
	}
	return value
}
