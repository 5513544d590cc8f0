package exporter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listEntries(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestDirCollector(t *testing.T) {
	base := t.TempDir()
	// Timestamped exports, a temporary leftover and an unrelated entry.
	for _, name := range []string{"100", "200", "300", "temp-400", "notes"} {
		require.NoError(t, os.Mkdir(filepath.Join(base, name), 0770))
	}

	require.NoError(t, DirCollector{}.Collect(base, 2))
	assert.ElementsMatch(t, []string{"200", "300", "temp-400", "notes"}, listEntries(t, base),
		"only the oldest timestamped exports are removed")

	// Retention disabled: nothing is touched.
	require.NoError(t, DirCollector{}.Collect(base, 0))
	assert.Len(t, listEntries(t, base), 4)

	assert.Error(t, DirCollector{}.Collect("/does/not/exist", 1))
}

func TestStrategyExport(t *testing.T) {
	e := newTestEstimator(t)
	receiverFn := must.M1(BuildParsingReceiverFn(testFeatureSpec(), "label"))
	strategy := MakeExportStrategy(receiverFn, 1, nil)
	assert.Equal(t, "eval_saved_model", strategy.Name)

	exportDirBase := filepath.Join(t.TempDir(), "export")
	// A stale export from an earlier run; retention must remove it.
	require.NoError(t, os.MkdirAll(filepath.Join(exportDirBase, "100"), 0770))

	exportDir, err := strategy.Export(e, exportDirBase, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(exportDir)}, listEntries(t, exportDirBase))
}

func TestStrategyRetentionDisabled(t *testing.T) {
	e := newTestEstimator(t)
	receiverFn := must.M1(BuildParsingReceiverFn(testFeatureSpec(), "label"))
	strategy := MakeExportStrategy(receiverFn, 0, nil)

	exportDirBase := filepath.Join(t.TempDir(), "export")
	require.NoError(t, os.MkdirAll(filepath.Join(exportDirBase, "100"), 0770))

	_, err := strategy.Export(e, exportDirBase, "")
	require.NoError(t, err)
	assert.Len(t, listEntries(t, exportDirBase), 2, "the stale export survives")
}

type failingCollector struct{}

func (failingCollector) Collect(exportDirBase string, exportsToKeep int) error {
	return errors.Errorf("collector broke")
}

func TestStrategyCollectorFailure(t *testing.T) {
	e := newTestEstimator(t)
	receiverFn := must.M1(BuildParsingReceiverFn(testFeatureSpec(), "label"))
	strategy := MakeExportStrategy(receiverFn, 1, failingCollector{})

	exportDir, err := strategy.Export(e, filepath.Join(t.TempDir(), "export"), "")
	assert.ErrorContains(t, err, "collector broke")
	assert.DirExists(t, exportDir, "the export itself succeeded and is reported")
}
