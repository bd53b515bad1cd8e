package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defect-predictor/internal/artifact"
	"defect-predictor/internal/common"
	"defect-predictor/internal/evaluate"
	"defect-predictor/internal/features"
	"defect-predictor/internal/ml"
	"defect-predictor/internal/storage"
)

// writeDataset writes rows of the default schema where a module is defective
// exactly when cyclomatic_complexity exceeds 10.
func writeDataset(t *testing.T, dir, name string, rows, maxDefective int, seed int64) string {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	var b strings.Builder
	b.WriteString(strings.Join(features.DefaultSchema, ",") + ",defects\n")
	defective := 0
	for i := 0; i < rows; i++ {
		cc := 1 + rng.Intn(15)
		if cc > 10 {
			if defective >= maxDefective {
				cc = 1 + rng.Intn(10)
			} else {
				defective++
			}
		}
		label := "false"
		if cc > 10 {
			label = "true"
		}
		fmt.Fprintf(&b, "%d,%d,%d,%.2f,%d,%.1f,%d,%d,%.3f,%s\n",
			20+rng.Intn(400), cc, rng.Intn(12), rng.Float64(), 1+rng.Intn(5),
			100+rng.Float64()*900, rng.Intn(8), rng.Intn(8), rng.Float64()*0.1, label)
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func testConfig(datasetDir, outputDir string) Config {
	return Config{
		DatasetDir:       datasetDir,
		Seed:             7,
		SearchIterations: 2,
		StackFolds:       3,
		BackgroundSize:   40,
		OutputDir:        outputDir,
		Spaces: map[string]ml.Space{
			ml.FamilyRandomForest:     {"n_estimators": {5, 10}, "max_depth": {3, 4}},
			ml.FamilyGradientBoosting: {"n_estimators": {10}, "max_depth": {2, 3}, "learning_rate": {0.3}},
			ml.FamilyDecisionTree:     {"max_depth": {3, 4}},
			ml.FamilyMLP: {
				"hidden_layer_sizes": {[]int{8}},
				"activation":         {"tanh"},
				"alpha":              {0.001},
				"max_iter":           {30},
			},
		},
	}
}

type recordingRecorder struct {
	stages []string
	status string
	scores map[string]float64
}

func (r *recordingRecorder) StageObserve(stage string, _ time.Duration) {
	r.stages = append(r.stages, stage)
}
func (r *recordingRecorder) RunFinished(status string) { r.status = status }
func (r *recordingRecorder) SearchScoreSet(family string, f1 float64) {
	if r.scores == nil {
		r.scores = make(map[string]float64)
	}
	r.scores[family] = f1
}

func TestPipeline_Run(t *testing.T) {
	dataDir := t.TempDir()
	writeDataset(t, dataDir, "a.csv", 90, 30, 1)
	writeDataset(t, dataDir, "b.csv", 90, 30, 2)
	outDir := filepath.Join(t.TempDir(), "models")

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	p := New(testConfig(dataDir, outDir), store)
	rec := &recordingRecorder{}
	p.SetRecorder(rec)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 180, res.DatasetRows)
	assert.Equal(t, res.DatasetRows, res.TrainRows+res.ValRows+res.TestRows)
	assert.Greater(t, res.ResampledRows, res.TrainRows)

	for _, name := range []string{StackingReport, ml.FamilyRandomForest, ml.FamilyGradientBoosting, ml.FamilyDecisionTree, ml.FamilyMLP} {
		assert.Contains(t, res.Reports, name)
	}
	assert.Greater(t, res.Reports[StackingReport].F1Score, 0.7)
	assert.Equal(t, res.TestRows, res.Reports[StackingReport].ConfusionMatrix.Total())

	for family, sr := range res.Searches {
		assert.Len(t, sr.Trials, 2, family)
		assert.NotNil(t, sr.Best, family)
	}

	// Artifact and reports on disk.
	loaded, err := artifact.Load(filepath.Join(outDir, ArtifactFile))
	require.NoError(t, err)
	assert.Equal(t, res.RunID, loaded.Version)
	assert.True(t, loaded.Schema.Equal(features.DefaultSchema))
	assert.Len(t, loaded.Background, 40)

	require.Len(t, res.Importance, len(features.DefaultSchema))
	assert.Equal(t, "cyclomatic_complexity", res.Importance[0].Feature)
	assert.Greater(t, res.Importance[0].F1Drop, 0.2)
	assert.Equal(t, res.Importance, loaded.Importance)

	onDisk, err := evaluate.ReadReport(filepath.Join(outDir, evaluate.ResultsFile))
	require.NoError(t, err)
	assert.InDelta(t, res.Reports[StackingReport].F1Score, onDisk[StackingReport].F1Score, 1e-12)
	for _, f := range []string{evaluate.SummaryFile, evaluate.ImportanceFile, SearchFile, artifact.MetadataFile} {
		_, err := os.Stat(filepath.Join(outDir, f))
		assert.NoError(t, err, f)
	}

	// Run history.
	run, err := store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSucceeded, run.Status)
	assert.Equal(t, 180, run.DatasetRows)
	assert.Equal(t, res.ArtifactPath, run.ArtifactPath)
	assert.Contains(t, run.BestParams, ml.FamilyRandomForest)

	assert.Equal(t, storage.StatusSucceeded, rec.status)
	assert.Equal(t, []string{StageLoad, StageSplit, StageResample, StageSearch, StageStack, StageEvaluate, StagePersist}, rec.stages)
	assert.Len(t, rec.scores, 4)
}

func TestPipeline_BackgroundComesFromRealRows(t *testing.T) {
	dataDir := t.TempDir()
	path := writeDataset(t, dataDir, "a.csv", 150, 50, 3)

	res, err := New(testConfig(dataDir, t.TempDir()), nil).Run(context.Background())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	for _, row := range res.Artifact.Background {
		// loc and cyclomatic_complexity are written as integers.
		prefix := fmt.Sprintf("\n%d,%d,", int(row[0]), int(row[1]))
		assert.Contains(t, content, prefix)
	}
}

func TestPipeline_Deterministic(t *testing.T) {
	dataDir := t.TempDir()
	writeDataset(t, dataDir, "a.csv", 150, 50, 4)

	first, err := New(testConfig(dataDir, t.TempDir()), nil).Run(context.Background())
	require.NoError(t, err)
	second, err := New(testConfig(dataDir, t.TempDir()), nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Reports, second.Reports)
	assert.Equal(t, first.Artifact.Params, second.Artifact.Params)
	assert.Equal(t, first.Artifact.Background, second.Artifact.Background)
	for _, row := range first.Artifact.Background {
		assert.Equal(t, first.Artifact.Model.PredictProba(row), second.Artifact.Model.PredictProba(row))
	}
}

func TestPipeline_Failures(t *testing.T) {
	t.Run("insufficient minority", func(t *testing.T) {
		dataDir := t.TempDir()
		writeDataset(t, dataDir, "a.csv", 120, 8, 5)

		store, err := storage.New(t.TempDir())
		require.NoError(t, err)
		defer store.Close()

		cfg := testConfig(dataDir, t.TempDir())
		cfg.SMOTENeighbors = 10
		_, err = New(cfg, store).Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrInsufficientMinoritySamples)

		var se *StageError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, StageResample, se.Stage)

		run, err := store.LatestRun()
		require.NoError(t, err)
		assert.Equal(t, storage.StatusFailed, run.Status)
		assert.Contains(t, run.Error, "resample")
		assert.Equal(t, 120, run.DatasetRows)
	})

	t.Run("schema mismatch names the file", func(t *testing.T) {
		dataDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, "broken.csv"), []byte("loc,defects\n10,true\n"), 0644))

		_, err := New(testConfig(dataDir, t.TempDir()), nil).Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrSchemaMismatch)
		assert.Contains(t, err.Error(), "load")
		assert.Contains(t, err.Error(), "broken.csv")
	})

	t.Run("empty search budget", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), t.TempDir())
		cfg.SearchIterations = 0
		_, err := New(cfg, nil).Run(context.Background())
		assert.ErrorIs(t, err, common.ErrEmptySearchBudget)
	})

	t.Run("unknown family", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), t.TempDir())
		cfg.MetaFamily = "xgboost"
		_, err := New(cfg, nil).Run(context.Background())
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		dataDir := t.TempDir()
		writeDataset(t, dataDir, "a.csv", 100, 30, 6)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := New(testConfig(dataDir, t.TempDir()), nil).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConfigDefaults(t *testing.T) {
	c := New(Config{DatasetDir: "d", SearchIterations: 1}, nil).Config()
	assert.Equal(t, DefaultBaseFamilies, c.BaseFamilies)
	assert.Equal(t, ml.FamilyLogisticRegression, c.MetaFamily)
	assert.Equal(t, []string{ml.FamilyMLP}, c.Standalone)
	assert.Equal(t, filepath.Join("models", ArtifactFile), c.ArtifactPath())
	assert.Equal(t, 0.70, c.TrainFraction)
}
