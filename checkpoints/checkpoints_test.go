package checkpoints

import (
	"os"
	"testing"

	"github.com/NervanaSystems/model-analysis/graph"
	"github.com/NervanaSystems/model-analysis/types/shapes"
	"github.com/NervanaSystems/model-analysis/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestEmpty(t *testing.T) {
	latest, err := Latest(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, latest)

	latest, err = Latest("/does/not/exist")
	require.NoError(t, err, "a missing model directory just has no checkpoints")
	assert.Empty(t, latest)
}

func TestSaveListLatest(t *testing.T) {
	dir := t.TempDir()
	first, err := Save(dir, 0, map[string]*tensors.Tensor{
		"w": tensors.FromScalar(float32(1)),
	})
	require.NoError(t, err)
	second, err := Save(dir, 100, map[string]*tensors.Tensor{
		"w": tensors.FromScalar(float32(2)),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "the embedded count keeps same-second saves apart")
	assert.Contains(t, first, "initial", "global step 0 saves as the initial checkpoint")
	assert.Contains(t, second, "step-00000100")

	listed, err := List(dir)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	latest, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, second, latest)
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := map[string]*tensors.Tensor{
		graph.GlobalStepName: tensors.FromScalar(int64(42)),
		"dense/kernel":       tensors.FromFlat([]float32{0.5, -1.5, 2}, 3),
		"dense/bias":         tensors.FromScalar(float32(0.25)),
	}
	checkpointPath, err := Save(dir, 42, want)
	require.NoError(t, err)

	g := graph.New("test")
	graph.CreateGlobalStep(g)
	graph.Variable(g, "dense/kernel", shapes.Make(shapes.Float32, 3))
	graph.Variable(g, "dense/bias", shapes.Scalar(shapes.Float32))
	session := graph.NewSession(g)
	require.NoError(t, DefaultSaver().Restore(session, checkpointPath))

	for name, wantValue := range want {
		got, found := session.VariableValue(name)
		require.True(t, found, "variable %q not restored", name)
		assert.True(t, wantValue.Equal(got), "variable %q: want %s, got %s", name, wantValue, got)
	}
}

func TestRestoreMissingVariable(t *testing.T) {
	dir := t.TempDir()
	checkpointPath, err := Save(dir, 1, map[string]*tensors.Tensor{
		graph.GlobalStepName: tensors.FromScalar(int64(1)),
	})
	require.NoError(t, err)

	g := graph.New("test")
	graph.CreateGlobalStep(g)
	graph.Variable(g, "w", shapes.Scalar(shapes.Float32))
	err = DefaultSaver().Restore(graph.NewSession(g), checkpointPath)
	assert.ErrorContains(t, err, `no value for variable "w"`)
}

func TestRestoreIgnoresExtraCheckpointVariables(t *testing.T) {
	dir := t.TempDir()
	checkpointPath, err := Save(dir, 1, map[string]*tensors.Tensor{
		graph.GlobalStepName: tensors.FromScalar(int64(1)),
		"unused/kernel":      tensors.FromFlat([]float64{1, 2}, 2),
	})
	require.NoError(t, err)

	g := graph.New("test")
	graph.CreateGlobalStep(g)
	session := graph.NewSession(g)
	require.NoError(t, DefaultSaver().Restore(session, checkpointPath))
	assert.Equal(t, []string{graph.GlobalStepName}, session.InitializedVariables())
}

func TestRestoreCorruptedIndex(t *testing.T) {
	dir := t.TempDir()
	checkpointPath, err := Save(dir, 1, map[string]*tensors.Tensor{
		graph.GlobalStepName: tensors.FromScalar(int64(1)),
	})
	require.NoError(t, err)

	// A negative length must fail like any other out-of-range entry, not
	// panic on the slice expression.
	require.NoError(t, os.WriteFile(checkpointPath+indexSuffix,
		[]byte(`{"GlobalStep": 1, "Variables": [{"Name": "global_step", "DType": "int64", "Pos": 0, "Length": -8}]}`), 0660))

	g := graph.New("test")
	graph.CreateGlobalStep(g)
	err = DefaultSaver().Restore(graph.NewSession(g), checkpointPath)
	assert.ErrorContains(t, err, "points outside the data file")
}

func TestRestoreMissingFiles(t *testing.T) {
	g := graph.New("test")
	graph.CreateGlobalStep(g)
	err := DefaultSaver().Restore(graph.NewSession(g), "/does/not/exist/checkpoint-n0000000-x")
	assert.Error(t, err)
}
