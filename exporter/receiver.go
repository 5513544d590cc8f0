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

// Package exporter persists a trained model's evaluation graph -- feature
// parsing, label extraction, predictions and metric accumulators -- into a
// self-describing artifact that an offline evaluation system can reload,
// re-feed with held-out data and re-execute, without re-running training
// code.
//
// The core entry point is Export. It builds a fresh evaluation graph through
// the model's receiver function and model-building function, tags every
// semantically relevant node via the encoding package, restores the trained
// weights from a checkpoint, and materializes the artifact into a timestamped
// directory. Materialization is crash-safe: the artifact is fully written
// under a temporary sibling name and then atomically renamed into place, so
// it is never observable half-written under its final name.
//
// MakeExportStrategy wraps Export with a retention policy for periodic
// exporting.
package exporter

import (
	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/pkg/errors"
)

// ExamplesKey is the required key in EvalInputReceiver.ReceiverTensors,
// holding the placeholder fed with serialized example records.
const ExamplesKey = "examples"

// InputExamplePlaceholderName is the node name of the serialized-example
// placeholder created by parsing receivers.
const InputExamplePlaceholderName = "input_example_tensor"

// EvalInputReceiver is the input adapter of one evaluation graph: the
// placeholders the evaluation system feeds, and the feature and label nodes
// parsed from them. All nodes must belong to the same Graph, the one the
// receiver function was invoked with.
//
// It is built once per export by the receiver function, consumed immediately
// and discarded.
type EvalInputReceiver struct {
	// Features to be passed to the model: a single node or a mapping from
	// feature name to node.
	Features graph.NodeOrMap

	// ReceiverTensors are the input placeholders, by name. Must contain
	// ExamplesKey.
	ReceiverTensors *graph.NodeMap

	// Labels to be passed to the model: a single node or a mapping.
	Labels graph.NodeOrMap
}

// EvalInputReceiverFn is the user-supplied factory producing the input
// adapter for one evaluation graph. It is invoked exactly once per export,
// with the fresh graph under construction.
type EvalInputReceiverFn func(g *graph.Graph) (*EvalInputReceiver, error)

// BuildParsingReceiverFn builds a receiver function that expects serialized
// example records fed into a string placeholder, parsed according to
// featureSpec. All parsed features are returned as the receiver's features;
// the labels are the parsed feature at labelKey (still present in features).
//
// labelKey must be part of featureSpec; that is validated eagerly, here.
func BuildParsingReceiverFn(featureSpec graph.FeatureSpec, labelKey string) (EvalInputReceiverFn, error) {
	if _, found := featureSpec.Find(labelKey); !found {
		return nil, errors.Errorf("label key %q is not part of the feature spec %v", labelKey, featureSpec)
	}
	return func(g *graph.Graph) (*EvalInputReceiver, error) {
		// The batch dimension must be variable: the evaluation system feeds
		// batches of arbitrary size.
		serialized := graph.Placeholder(g,
			shapes.Make(shapes.String, shapes.UnknownDim), InputExamplePlaceholderName)
		features := graph.ParseExample(serialized, featureSpec)
		labelNode, found := features.Get(labelKey)
		if !found {
			return nil, errors.Errorf("label key %q missing from parsed features", labelKey)
		}
		return &EvalInputReceiver{
			Features:        graph.MapOfNodes(features),
			ReceiverTensors: graph.NewNodeMap().Set(ExamplesKey, serialized),
			Labels:          graph.SingleNode(labelNode),
		}, nil
	}, nil
}
