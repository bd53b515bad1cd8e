package evaluate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defect-predictor/internal/dataset"
	"defect-predictor/internal/features"
)

// thresholdModel predicts defective when the first feature exceeds 5.
type thresholdModel struct{}

func (thresholdModel) PredictProba(x []float64) float64 {
	if x[0] > 5 {
		return 0.9
	}
	return 0.1
}

func (m thresholdModel) Predict(x []float64) int {
	if m.PredictProba(x) > 0.5 {
		return 1
	}
	return 0
}

func TestEvaluate(t *testing.T) {
	ds := dataset.New(features.Schema{"loc"})
	rows := []struct {
		x     float64
		label int
	}{
		{9, 1}, {8, 1}, {7, 0}, // TP TP FP
		{1, 1},                 // FN
		{2, 0}, {3, 0},         // TN TN
	}
	for _, r := range rows {
		require.NoError(t, ds.Append(dataset.LabeledSample{Features: []float64{r.x}, Label: r.label}))
	}

	rep, err := Evaluate(thresholdModel{}, ds)
	require.NoError(t, err)
	assert.Equal(t, ConfusionMatrix{TP: 2, FP: 1, TN: 2, FN: 1}, rep.ConfusionMatrix)
	assert.InDelta(t, 4.0/6.0, rep.Accuracy, 1e-9)
	assert.InDelta(t, 2.0/3.0, rep.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, rep.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, rep.F1Score, 1e-9)

	_, err = Evaluate(thresholdModel{}, dataset.New(features.Schema{"loc"}))
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestFromPredictions_NoPositives(t *testing.T) {
	rep, err := FromPredictions([]int{0, 0, 0}, []int{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rep.Accuracy)
	assert.Equal(t, 0.0, rep.Precision)
	assert.Equal(t, 0.0, rep.Recall)
	assert.Equal(t, 0.0, rep.F1Score)

	_, err = FromPredictions([]int{1}, []int{1, 0})
	assert.Error(t, err)
}

func TestF1(t *testing.T) {
	testCases := []struct {
		name  string
		yTrue []int
		yPred []int
		want  float64
	}{
		{"perfect", []int{1, 0, 1}, []int{1, 0, 1}, 1},
		{"all wrong", []int{1, 0}, []int{0, 1}, 0},
		{"half recall", []int{1, 1, 0}, []int{1, 0, 0}, 2.0 / 3.0},
		{"undefined", []int{0, 0}, []int{0, 0}, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, F1(tc.yTrue, tc.yPred), 1e-9)
		})
	}
}

func TestConfusionMatrix_JSON(t *testing.T) {
	cm := ConfusionMatrix{TP: 4, FP: 3, TN: 2, FN: 1}
	data, err := json.Marshal(cm)
	require.NoError(t, err)
	assert.JSONEq(t, `[[2,3],[1,4]]`, string(data))

	var back ConfusionMatrix
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cm, back)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", ResultsFile)
	reports := map[string]Report{
		"stacking": {Accuracy: 0.9, Precision: 0.8, Recall: 0.7, F1Score: 0.75, ConfusionMatrix: ConfusionMatrix{TP: 7, FP: 2, TN: 20, FN: 3}},
	}

	require.NoError(t, WriteReport(path, reports))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var generic map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, key := range []string{"accuracy", "precision", "recall", "f1_score", "confusion_matrix"} {
		assert.Contains(t, generic["stacking"], key)
	}

	back, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, reports, back)

	summary := filepath.Join(dir, SummaryFile)
	require.NoError(t, WriteSummary(summary, reports))
	text, err := os.ReadFile(summary)
	require.NoError(t, err)
	assert.Contains(t, string(text), "stacking")
	assert.Contains(t, string(text), "[[20 2] [3 7]]")
}

func TestPermutationImportance(t *testing.T) {
	ds := dataset.New(features.Schema{"noise", "loc"})
	for i := 0; i < 40; i++ {
		loc := float64(i%10 + 1)
		label := 0
		if loc > 5 {
			label = 1
		}
		require.NoError(t, ds.Append(dataset.LabeledSample{Features: []float64{float64(i * 7 % 13), loc}, Label: label}))
	}

	// thresholdModel reads column 0, so swap it to look at loc.
	model := swappedModel{}
	imp, err := PermutationImportance(model, ds, 5, 1)
	require.NoError(t, err)
	require.Len(t, imp, 2)

	assert.Equal(t, "loc", imp[0].Feature)
	assert.Greater(t, imp[0].F1Drop, 0.2)
	assert.Equal(t, "noise", imp[1].Feature)
	assert.Zero(t, imp[1].F1Drop)
	assert.Zero(t, imp[1].StdDev)

	again, err := PermutationImportance(model, ds, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, imp, again)

	// The input rows are left untouched.
	assert.Equal(t, 1.0, ds.Samples[0].Features[1])

	path := filepath.Join(t.TempDir(), "out", ImportanceFile)
	require.NoError(t, WriteImportance(path, imp))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded []FeatureImportance
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, imp, decoded)

	_, err = PermutationImportance(model, dataset.New(features.Schema{"loc"}), 1, 1)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

type swappedModel struct{}

func (swappedModel) PredictProba(x []float64) float64 {
	return thresholdModel{}.PredictProba(x[1:])
}

func (swappedModel) Predict(x []float64) int {
	return thresholdModel{}.Predict(x[1:])
}
