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

package estimator

import (
	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/pkg/errors"
)

// AdaptModel invokes the estimator's model-building function in evaluation
// mode and normalizes its result into a Spec.
//
// The features and labels passed in must be the identity-wrapped values, not
// the raw receiver output: the model's graph must consume the wrapped nodes
// while evaluation feeds the originals.
//
// An estimator of unrecognized variant (e.g. a zero Estimator) is a
// configuration error; there is no fallback.
func AdaptModel(e *Estimator, features, labels graph.NodeOrMap) (*Spec, error) {
	switch e.variant {
	case variantUnified:
		spec, err := e.modelFn(features, labels, ModeEval, e.Config())
		if err != nil {
			return nil, errors.WithMessage(err, "building model graph (unified)")
		}
		if spec == nil {
			return nil, errors.Errorf("unified model-building function returned a nil spec")
		}
		return spec, nil

	case variantLegacy:
		ops, err := e.legacyModelFn(features, labels, ModeEval, e.Config())
		if err != nil {
			return nil, errors.WithMessage(err, "building model graph (legacy)")
		}
		if ops == nil {
			return nil, errors.Errorf("legacy model-building function returned nil ops")
		}
		g, err := graphOf(features, labels, ops.Predictions)
		if err != nil {
			return nil, err
		}
		// Legacy results carry no loss; a Spec requires one, so synthesize
		// a zero constant. Nothing downstream of export reads it.
		return &Spec{
			Mode:          ModeEval,
			Predictions:   ops.Predictions,
			Loss:          graph.ConstScalar(g, float32(0)),
			EvalMetricOps: ops.EvalMetricOps,
			Scaffold:      ops.Scaffold,
		}, nil
	}
	return nil, errors.Errorf("estimator has an unrecognized variant: it must be created with estimator.New or estimator.NewLegacy")
}

// graphOf returns the Graph the given values' nodes belong to.
func graphOf(values ...graph.NodeOrMap) (*graph.Graph, error) {
	for _, value := range values {
		if node := value.Single(); node != nil {
			return node.Graph(), nil
		}
		for _, node := range value.Map().All() {
			if node != nil {
				return node.Graph(), nil
			}
		}
	}
	return nil, errors.Errorf("cannot determine the graph: no nodes in features, labels or predictions")
}
