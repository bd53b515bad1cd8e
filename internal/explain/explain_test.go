package explain

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defect-predictor/internal/common"
	"defect-predictor/internal/features"
)

// complexityModel scores defect risk as a logistic curve on cyclomatic complexity.
type complexityModel struct{}

func (complexityModel) PredictProba(x []float64) float64 {
	return 1 / (1 + math.Exp(-(x[1] - 10)))
}

func (m complexityModel) Predict(x []float64) int {
	if m.PredictProba(x) > 0.5 {
		return 1
	}
	return 0
}

func background(n int) [][]float64 {
	rng := rand.New(rand.NewSource(7))
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, len(features.DefaultSchema))
		for j := range row {
			row[j] = 5 + rng.Float64()*10
		}
		rows[i] = row
	}
	return rows
}

func instance() []float64 {
	return []float64{120, 10, 3, 0.8, 2, 850, 4, 6, 0.02}
}

func newTestExplainer(t *testing.T) *Explainer {
	t.Helper()
	e, err := New(background(100), features.DefaultSchema, Options{Samples: 1000, Seed: 42})
	require.NoError(t, err)
	return e
}

func TestExplain_RanksDrivingFeatureFirst(t *testing.T) {
	e := newTestExplainer(t)

	exp, err := e.Explain(context.Background(), complexityModel{}, instance(), 5)
	require.NoError(t, err)
	require.Len(t, exp, 5)

	assert.Equal(t, "cyclomatic_complexity", exp[0].Feature)
	assert.Greater(t, exp[0].Weight, 0.0)
	for i := 1; i < len(exp); i++ {
		assert.GreaterOrEqual(t, math.Abs(exp[i-1].Weight), math.Abs(exp[i].Weight))
		assert.Less(t, math.Abs(exp[i].Weight), math.Abs(exp[0].Weight)/5)
	}
}

func TestExplain_Deterministic(t *testing.T) {
	e := newTestExplainer(t)
	a, err := e.Explain(context.Background(), complexityModel{}, instance(), 9)
	require.NoError(t, err)
	b, err := e.Explain(context.Background(), complexityModel{}, instance(), 9)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExplain_ConcurrentCallsAgree(t *testing.T) {
	e := newTestExplainer(t)
	want, err := e.Explain(context.Background(), complexityModel{}, instance(), 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Explain(context.Background(), complexityModel{}, instance(), 3)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestExplain_TopKBounds(t *testing.T) {
	e := newTestExplainer(t)
	ctx := context.Background()

	none, err := e.Explain(ctx, complexityModel{}, instance(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	negative, err := e.Explain(ctx, complexityModel{}, instance(), -3)
	require.NoError(t, err)
	assert.Empty(t, negative)

	all, err := e.Explain(ctx, complexityModel{}, instance(), 100)
	require.NoError(t, err)
	assert.Len(t, all, len(features.DefaultSchema))

	one, err := e.Explain(ctx, complexityModel{}, instance(), 1)
	require.NoError(t, err)
	assert.Equal(t, all[0], one[0])
}

func TestExplain_Errors(t *testing.T) {
	_, err := New(nil, features.DefaultSchema, Options{})
	assert.ErrorIs(t, err, common.ErrExplainerNotInitialized)

	_, err = New([][]float64{{1, 2}}, features.DefaultSchema, Options{})
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)

	var nilExplainer *Explainer
	_, err = nilExplainer.Explain(context.Background(), complexityModel{}, instance(), 5)
	assert.ErrorIs(t, err, common.ErrExplainerNotInitialized)

	e := newTestExplainer(t)
	_, err = e.Explain(context.Background(), complexityModel{}, []float64{1}, 5)
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Explain(ctx, complexityModel{}, instance(), 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExplain_ConstantBackgroundColumn(t *testing.T) {
	bg := background(50)
	for _, row := range bg {
		row[3] = 1
	}
	e, err := New(bg, features.DefaultSchema, Options{Samples: 300})
	require.NoError(t, err)
	exp, err := e.Explain(context.Background(), complexityModel{}, instance(), 3)
	require.NoError(t, err)
	for _, c := range exp {
		assert.False(t, math.IsNaN(c.Weight))
	}
}

// constModel scores every module the same.
type constModel struct{ p float64 }

func (m constModel) PredictProba([]float64) float64 { return m.p }

func (m constModel) Predict([]float64) int { return 0 }

func TestExplain_ConstantModelHasNoAttribution(t *testing.T) {
	e := newTestExplainer(t)
	exp, err := e.Explain(context.Background(), constModel{p: 0.37}, instance(), len(features.DefaultSchema))
	require.NoError(t, err)
	require.Len(t, exp, len(features.DefaultSchema))
	for _, c := range exp {
		assert.Less(t, math.Abs(c.Weight), 1e-9, c.Feature)
	}
}

func TestExplanation_Finite(t *testing.T) {
	assert.True(t, Explanation{}.Finite())
	assert.True(t, Explanation{{Feature: "loc", Weight: -0.2}}.Finite())
	assert.False(t, Explanation{{Feature: "loc", Weight: 0.1}, {Feature: "fan_in", Weight: math.NaN()}}.Finite())
	assert.False(t, Explanation{{Feature: "loc", Weight: math.Inf(-1)}}.Finite())
}

func TestExplanation_JSONKeepsOrder(t *testing.T) {
	exp := Explanation{
		{Feature: "loc", Weight: 0.5},
		{Feature: "cyclomatic_complexity", Weight: -0.25},
		{Feature: "coupling", Weight: 0.1},
	}
	data, err := json.Marshal(exp)
	require.NoError(t, err)
	assert.Equal(t, `{"loc":0.5,"cyclomatic_complexity":-0.25,"coupling":0.1}`, string(data))

	var back Explanation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, exp, back)

	empty, err := json.Marshal(Explanation{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))

	assert.Equal(t, []string{"loc", "cyclomatic_complexity", "coupling"}, exp.Features())
	assert.Equal(t, -0.25, exp.Map()["cyclomatic_complexity"])
}
