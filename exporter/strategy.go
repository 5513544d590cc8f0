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
	"sort"
	"strconv"

	"github.com/NervanaSystems/model-analysis/estimator"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GarbageCollector is the retention collaborator of an export Strategy: it
// removes old exports under a base directory, keeping the most recent
// exportsToKeep of them.
type GarbageCollector interface {
	Collect(exportDirBase string, exportsToKeep int) error
}

// Strategy is a thin periodic-export policy: each Export call performs one
// export and then delegates retention to the garbage collector. It keeps no
// state between invocations.
type Strategy struct {
	// Name identifies the strategy to an experiment-orchestration layer.
	Name string

	receiverFn    EvalInputReceiverFn
	exportsToKeep int
	collector     GarbageCollector
}

// DefaultExportsToKeep is the retention used by MakeExportStrategy unless
// configured otherwise.
const DefaultExportsToKeep = 5

// MakeExportStrategy creates a Strategy around the given receiver function.
// exportsToKeep <= 0 disables garbage collection. A nil collector means
// DirCollector.
func MakeExportStrategy(receiverFn EvalInputReceiverFn, exportsToKeep int, collector GarbageCollector) *Strategy {
	if collector == nil {
		collector = DirCollector{}
	}
	return &Strategy{
		Name:          "eval_saved_model",
		receiverFn:    receiverFn,
		exportsToKeep: exportsToKeep,
		collector:     collector,
	}
}

// Export performs one export (see Export) and then collects old exports per
// the strategy's retention. If collection fails the export itself already
// succeeded, so the export path is returned along with the error.
func (s *Strategy) Export(e *estimator.Estimator, exportDirBase, checkpointPath string) (string, error) {
	exportDir, err := Export(e, exportDirBase, s.receiverFn, checkpointPath)
	if err != nil {
		return "", err
	}
	if s.exportsToKeep > 0 {
		if err = s.collector.Collect(exportDirBase, s.exportsToKeep); err != nil {
			return exportDir, errors.WithMessagef(err, "export succeeded at %q but garbage collection failed", exportDir)
		}
	}
	return exportDir, nil
}

// DirCollector is the default GarbageCollector: it removes the oldest
// timestamped export directories beyond the configured retention. Temporary
// ("temp-" prefixed) and otherwise non-timestamped entries are never touched.
type DirCollector struct{}

// Collect implements GarbageCollector.
func (DirCollector) Collect(exportDirBase string, exportsToKeep int) error {
	if exportsToKeep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(exportDirBase)
	if err != nil {
		return errors.Wrapf(err, "listing exports in %q", exportDirBase)
	}
	var timestamps []int64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ts, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		timestamps = append(timestamps, ts)
	}
	if len(timestamps) <= exportsToKeep {
		return nil
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	for _, ts := range timestamps[:len(timestamps)-exportsToKeep] {
		exportDir := filepath.Join(exportDirBase, strconv.FormatInt(ts, 10))
		if err := os.RemoveAll(exportDir); err != nil {
			return errors.Wrapf(err, "removing old export %q", exportDir)
		}
		klog.V(1).Infof("garbage-collected old export %q", exportDir)
	}
	return nil
}
