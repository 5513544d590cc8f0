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

// Package estimator models a trained model as the export path sees it: a
// model-building function plus the directory its checkpoints live in.
//
// Two model-construction APIs are supported. The unified one builds a Spec
// directly. The legacy one (older calling convention, kept for models that
// predate the unified API) builds ModelFnOps, which carries no loss;
// AdaptModel normalizes both into a Spec, so the rest of the export path has
// a single representation to work with.
package estimator

import (
	"github.com/NervanaSystems/model-analysis/checkpoints"
	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types"
)

// Mode in which a model-building function is invoked.
type Mode string

const (
	ModeTrain   Mode = "train"
	ModeEval    Mode = "eval"
	ModePredict Mode = "infer"
)

// RunConfig carries the estimator's execution configuration consumed during
// export.
type RunConfig struct {
	// RandomSeed seeds any stochastic op of the built graph, so repeated
	// exports of the same checkpoint build equivalent graphs.
	RandomSeed int64
}

// Scaffold bundles the auxiliary ops needed to initialize and restore a graph
// before execution. Either field may be nil, in which case the export path
// falls back to checkpoints.DefaultSaver and the graph's default
// local-initialization op.
type Scaffold struct {
	Saver       checkpoints.Saver
	LocalInitOp *graph.Node
}

// MetricOps is the accumulator pair of one metric: Value reads the current
// aggregate, Update advances it with one batch of data.
type MetricOps struct {
	Value  *graph.Node
	Update *graph.Node
}

// MetricOpsMap is an ordered mapping from metric name to its accumulator pair.
type MetricOpsMap = types.OrderedMap[MetricOps]

// NewMetricOpsMap returns an empty MetricOpsMap.
func NewMetricOpsMap() *MetricOpsMap { return types.NewOrderedMap[MetricOps]() }

// Spec is the normalized result of building a model's evaluation graph:
// predictions, metric accumulator pairs and the save/restore scaffold.
type Spec struct {
	Mode          Mode
	Predictions   graph.NodeOrMap
	Loss          *graph.Node
	EvalMetricOps *MetricOpsMap
	Scaffold      *Scaffold
}

// ModelFn is the unified model-building function: invoked with the (already
// identity-wrapped) features and labels, it builds the model's graph for the
// given mode and returns its Spec.
type ModelFn func(features, labels graph.NodeOrMap, mode Mode, config *RunConfig) (*Spec, error)

// ModelFnOps is the result of a legacy model-building function. It has
// predictions and metric ops but no loss.
type ModelFnOps struct {
	Predictions   graph.NodeOrMap
	EvalMetricOps *MetricOpsMap
	Scaffold      *Scaffold
}

// LegacyModelFn is the legacy model-building function calling convention.
type LegacyModelFn func(features, labels graph.NodeOrMap, mode Mode, config *RunConfig) (*ModelFnOps, error)

type variant int8

const (
	variantUnknown variant = iota
	variantUnified
	variantLegacy
)

// Estimator is a trained model to be exported: one of the two model-building
// conventions, the model directory holding its checkpoints, and its run
// configuration. Create one with New or NewLegacy.
type Estimator struct {
	variant       variant
	modelFn       ModelFn
	legacyModelFn LegacyModelFn
	modelDir      string
	config        *RunConfig
}

// New creates an Estimator around a unified model-building function. config
// may be nil, meaning defaults.
func New(modelFn ModelFn, modelDir string, config *RunConfig) *Estimator {
	return &Estimator{variant: variantUnified, modelFn: modelFn, modelDir: modelDir, config: config}
}

// NewLegacy creates an Estimator around a legacy model-building function.
// config may be nil, meaning defaults.
func NewLegacy(modelFn LegacyModelFn, modelDir string, config *RunConfig) *Estimator {
	return &Estimator{variant: variantLegacy, legacyModelFn: modelFn, modelDir: modelDir, config: config}
}

// ModelDir returns the directory the estimator's checkpoints live in.
func (e *Estimator) ModelDir() string { return e.modelDir }

// Config returns the estimator's RunConfig, never nil.
func (e *Estimator) Config() *RunConfig {
	if e.config == nil {
		return &RunConfig{}
	}
	return e.config
}
