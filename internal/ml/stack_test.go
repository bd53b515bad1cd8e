package ml

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defect-predictor/internal/common"
)

func stackBases() []ModelSpec {
	return []ModelSpec{
		{Family: FamilyRandomForest, Params: Params{"n_estimators": 20, "max_depth": 6}},
		{Family: FamilyGradientBoosting, Params: Params{"n_estimators": 30, "max_depth": 3, "learning_rate": 0.3}},
		{Family: FamilyDecisionTree, Params: Params{"max_depth": 5}},
	}
}

func TestFitStack(t *testing.T) {
	X, y := separable(300, 10)
	testX, testY := separable(150, 11)

	s, err := FitStack(X, y, stackBases(), ModelSpec{Family: FamilyLogisticRegression}, StackOptions{Folds: 5, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, []string{FamilyRandomForest, FamilyGradientBoosting, FamilyDecisionTree}, s.BaseNames)
	assert.Len(t, s.Bases, 3)
	assert.GreaterOrEqual(t, accuracy(s, testX, testY), 0.85)

	meta := s.MetaFeatures(testX[0])
	assert.Len(t, meta, 3)
}

func TestFitStack_PredictionIsPure(t *testing.T) {
	X, y := separable(200, 12)
	s, err := FitStack(X, y, stackBases()[:2], ModelSpec{Family: FamilyLogisticRegression}, StackOptions{Folds: 3, Seed: 1})
	require.NoError(t, err)

	row := X[7]
	first := s.PredictProba(row)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.PredictProba(row))
	}
}

func TestFitStack_InSampleVariant(t *testing.T) {
	X, y := separable(150, 13)
	s, err := FitStack(X, y, stackBases(), ModelSpec{Family: FamilyLogisticRegression}, StackOptions{Folds: 0})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, accuracy(s, X, y), 0.85)
}

func TestFitStack_Errors(t *testing.T) {
	meta := ModelSpec{Family: FamilyLogisticRegression}

	_, err := FitStack(nil, nil, stackBases(), meta, StackOptions{Folds: 5})
	assert.ErrorIs(t, err, common.ErrTrainingDataEmpty)

	_, err = FitStack([][]float64{{1}, {2}, {3}}, []int{0, 0, 0}, stackBases(), meta, StackOptions{Folds: 5})
	assert.ErrorIs(t, err, common.ErrLabelCardinality)

	X, y := separable(50, 14)
	_, err = FitStack(X, y, nil, meta, StackOptions{Folds: 5})
	assert.Error(t, err)

	_, err = FitStack(X, y, stackBases(), ModelSpec{Family: "nope"}, StackOptions{Folds: 5})
	assert.Error(t, err)
}

func TestStratifiedFolds(t *testing.T) {
	y := make([]int, 100)
	for i := 0; i < 20; i++ {
		y[i] = 1
	}
	assign := StratifiedFolds(y, 5, 42)

	pos := map[int]int{}
	all := map[int]int{}
	for i, f := range assign {
		all[f]++
		if y[i] == 1 {
			pos[f]++
		}
	}
	for f := 0; f < 5; f++ {
		assert.Equal(t, 20, all[f])
		assert.Equal(t, 4, pos[f])
	}
}

func TestStack_GobRoundTrip(t *testing.T) {
	X, y := separable(120, 15)
	s, err := FitStack(X, y, stackBases(), ModelSpec{Family: FamilyLogisticRegression}, StackOptions{Folds: 3, Seed: 3})
	require.NoError(t, err)

	var buf bytes.Buffer
	var m Model = s
	require.NoError(t, gob.NewEncoder(&buf).Encode(&m))
	var decoded Model
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))

	for _, row := range X[:10] {
		assert.Equal(t, s.PredictProba(row), decoded.PredictProba(row))
	}
}
