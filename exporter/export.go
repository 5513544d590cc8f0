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

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/NervanaSystems/model-analysis/checkpoints"
	"github.com/NervanaSystems/model-analysis/encoding"
	"github.com/NervanaSystems/model-analysis/estimator"
	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/savedmodel"
	"github.com/NervanaSystems/model-analysis/version"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Export builds the estimator's evaluation graph, tags its feature, label,
// prediction and metric nodes, restores the trained weights and materializes
// everything into a timestamped subdirectory of exportDirBase, whose path is
// returned.
//
// checkpointPath selects the checkpoint to export; empty means the latest
// checkpoint under the estimator's model directory, and finding none there is
// a configuration error.
//
// Any failure aborts the whole export: nothing is ever visible under the
// final timestamped name until the artifact is complete, and a temporary
// directory left behind by a failure is kept for inspection, never
// auto-deleted. Concurrent exports to the same exportDirBase are not
// coordinated here; the caller must serialize them.
func Export(e *estimator.Estimator, exportDirBase string, receiverFn EvalInputReceiverFn, checkpointPath string) (string, error) {
	if receiverFn == nil {
		return "", errors.Errorf("an eval input receiver function is required")
	}
	g := graph.New("eval_export")
	var receiver *EvalInputReceiver
	var spec *estimator.Spec

	// Graph construction: op constructors panic on misuse, so the whole
	// build phase runs under TryCatch and surfaces as a regular error.
	err := exceptions.TryCatch[error](func() {
		graph.CreateGlobalStep(g)
		g.SetRandomSeed(e.Config().RandomSeed)

		var err error
		receiver, err = receiverFn(g)
		if err != nil {
			panic(errors.WithMessage(err, "building eval input receiver"))
		}
		if err = validateReceiver(g, receiver); err != nil {
			panic(err)
		}

		// The model consumes identity-wrapped features and labels; the
		// originals stay feedable. Receiver tensors are never wrapped.
		wrappedFeatures := WrapInIdentity(receiver.Features)
		wrappedLabels := WrapInIdentity(receiver.Labels)

		spec, err = estimator.AdaptModel(e, wrappedFeatures, wrappedLabels)
		if err != nil {
			panic(err)
		}
		if err = registerGraphEntries(g.Collections(), receiver, spec); err != nil {
			panic(err)
		}
	})
	if err != nil {
		return "", err
	}

	if checkpointPath == "" {
		checkpointPath, err = checkpoints.Latest(e.ModelDir())
		if err != nil {
			return "", err
		}
		if checkpointPath == "" {
			return "", errors.Errorf("could not find a trained model at %q", e.ModelDir())
		}
	}

	exportDir, err := timestampedExportDir(exportDirBase)
	if err != nil {
		return "", err
	}
	tempDir := tempExportDir(exportDir)

	session := graph.NewSession(g)
	saver := checkpoints.DefaultSaver()
	if spec.Scaffold != nil && spec.Scaffold.Saver != nil {
		saver = spec.Scaffold.Saver
	}
	if err = saver.Restore(session, checkpointPath); err != nil {
		return "", err
	}
	var localInitOp *graph.Node
	if spec.Scaffold != nil && spec.Scaffold.LocalInitOp != nil {
		localInitOp = spec.Scaffold.LocalInitOp
	} else {
		localInitOp = graph.LocalVariablesInitializer(g)
	}

	builder, err := savedmodel.NewBuilder(tempDir)
	if err != nil {
		return "", err
	}
	err = builder.AddMetaGraphAndVariables(session,
		// No serving signatures: this graph is not meant for serving.
		[]string{encoding.EvalTag},
		savedmodel.MetaGraphOptions{
			LocalInitOp: localInitOp,
			AssetFiles:  assetFiles(g),
		})
	if err != nil {
		return "", err
	}
	if err = builder.Save(); err != nil {
		return "", err
	}

	if err = os.Rename(tempDir, exportDir); err != nil {
		return "", errors.Wrapf(err, "promoting export %q to %q (the temporary directory is kept for inspection)",
			tempDir, exportDir)
	}
	klog.V(1).Infof("exported eval saved model for checkpoint %q to %q", checkpointPath, exportDir)
	return exportDir, nil
}

// validateReceiver checks the receiver invariants: the required "examples"
// placeholder, and that every node belongs to the export's graph.
func validateReceiver(g *graph.Graph, receiver *EvalInputReceiver) error {
	if receiver == nil {
		return errors.Errorf("eval input receiver function returned nil")
	}
	if !receiver.ReceiverTensors.Has(ExamplesKey) {
		return errors.Errorf("receiver tensors must contain the %q placeholder", ExamplesKey)
	}
	check := func(role string, node *graph.Node) error {
		if node == nil {
			return errors.Errorf("receiver %s holds a nil node", role)
		}
		if node.Graph() != g {
			return errors.Errorf("receiver %s node %q belongs to a different graph", role, node.Name())
		}
		return nil
	}
	for name, node := range receiver.ReceiverTensors.All() {
		if err := check("tensor "+name, node); err != nil {
			return err
		}
	}
	for name, node := range receiver.Features.AsMap(encoding.DefaultFeaturesKey).All() {
		if err := check("feature "+name, node); err != nil {
			return err
		}
	}
	for name, node := range receiver.Labels.AsMap(encoding.DefaultLabelsKey).All() {
		if err := check("label "+name, node); err != nil {
			return err
		}
	}
	return nil
}

// registerGraphEntries tags every semantically relevant node into the
// graph's metadata collections. Registration order within each bucket is
// load-bearing; see the encoding package.
//
// Labels and features are registered from the raw receiver output, not the
// identity-wrapped nodes: evaluation feeds the originals.
func registerGraphEntries(c *graph.Collections, receiver *EvalInputReceiver, spec *estimator.Spec) error {
	encoding.RegisterVersion(c, version.Version)

	for name, ops := range spec.EvalMetricOps.All() {
		if ops.Value == nil || ops.Update == nil {
			return errors.Errorf("metric %q is missing its value or update op", name)
		}
		encoding.RegisterMetric(c, name, ops.Value, ops.Update)
	}

	for name, node := range spec.Predictions.AsMap(encoding.DefaultPredictionsKey).All() {
		encoding.RegisterNode(c, encoding.PredictionsCollection, name, node)
	}

	// Present, guaranteed by validateReceiver.
	examples, _ := receiver.ReceiverTensors.Get(ExamplesKey)
	encoding.RegisterInputExample(c, examples)

	for name, node := range receiver.Labels.AsMap(encoding.DefaultLabelsKey).All() {
		encoding.RegisterNode(c, encoding.LabelsCollection, name, node)
	}
	for name, node := range receiver.Features.AsMap(encoding.DefaultFeaturesKey).All() {
		encoding.RegisterNode(c, encoding.FeaturesCollection, name, node)
	}
	return nil
}

// assetFiles decodes the asset file paths recorded in the graph.
func assetFiles(g *graph.Graph) []string {
	entries := g.Collections().Get(graph.AssetFilePathsCollection)
	if len(entries) == 0 {
		return nil
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, string(entry))
	}
	return paths
}

// timestampCollisionRetries bounds how long an export waits for a fresh
// timestamp when the previous export landed on the same second.
const timestampCollisionRetries = 10

// timestampedExportDir allocates the final export path under base: the leaf
// name is the current unix timestamp. If a directory (or its temp sibling)
// already claimed the current second, it waits for the next one.
func timestampedExportDir(base string) (string, error) {
	if err := os.MkdirAll(base, savedmodel.DirPermMode); err != nil {
		return "", errors.Wrapf(err, "creating export base directory %q", base)
	}
	for attempt := 0; attempt < timestampCollisionRetries; attempt++ {
		name := strconv.FormatInt(time.Now().Unix(), 10)
		exportDir := filepath.Join(base, name)
		if !pathExists(exportDir) && !pathExists(tempExportDir(exportDir)) {
			return exportDir, nil
		}
		klog.Warningf("export directory %q already exists, waiting for the next timestamp", exportDir)
		time.Sleep(time.Second)
	}
	return "", errors.Errorf("could not allocate a fresh timestamped directory under %q after %d attempts",
		base, timestampCollisionRetries)
}

// tempExportDir returns the temporary sibling of a timestamped export
// directory: same parent, leaf name prefixed with "temp-".
func tempExportDir(exportDir string) string {
	dir, leaf := filepath.Split(exportDir)
	return filepath.Join(dir, "temp-"+leaf)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
