package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defect-predictor/internal/common"
	"defect-predictor/internal/dataset"
	"defect-predictor/internal/features"
	"defect-predictor/internal/ml"
)

// cutoff predicts defective when the first feature exceeds its "t" parameter.
type cutoff struct{ t float64 }

func (c *cutoff) Fit([][]float64, []int) error { return nil }

func (c *cutoff) PredictProba(x []float64) float64 {
	if x[0] > c.t {
		return 1
	}
	return 0
}

func (c *cutoff) Predict(x []float64) int { return int(c.PredictProba(x)) }

func cutoffFactory(p ml.Params) (ml.Classifier, error) {
	return &cutoff{t: p.Float("t", 0)}, nil
}

func tenRows() *dataset.Dataset {
	ds := dataset.New(features.Schema{"loc"})
	for i := 0; i < 10; i++ {
		lbl := 0
		if i > 4 {
			lbl = 1
		}
		ds.Samples = append(ds.Samples, dataset.LabeledSample{Features: []float64{float64(i)}, Label: lbl})
	}
	return ds
}

// scripted proposes a fixed sequence of configurations.
type scripted struct {
	seq      []ml.Params
	next     int
	observed []float64
}

func (s *scripted) Propose(ml.Space) ml.Params {
	p := s.seq[s.next%len(s.seq)].Clone()
	s.next++
	return p
}

func (s *scripted) Observe(_ ml.Params, score float64) { s.observed = append(s.observed, score) }

func TestOptimize_PicksBestConfiguration(t *testing.T) {
	strat := &scripted{seq: []ml.Params{{"t": 8.0}, {"t": 4.0}, {"t": 0.0}}}
	e := &Engine{Strategy: strat, Required: []string{"t"}, Name: "cutoff"}

	res, err := e.Optimize(context.Background(), cutoffFactory, tenRows(), tenRows(), ml.Space{"t": {0.0, 4.0, 8.0}}, 3)
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Best["t"])
	assert.Equal(t, 1.0, res.BestScore)
	assert.Len(t, res.Trials, 3)
	assert.Len(t, strat.observed, 3)
	for i, tr := range res.Trials {
		assert.Equal(t, i, tr.Round)
	}
}

func TestOptimize_TiesKeepEarliest(t *testing.T) {
	strat := &scripted{seq: []ml.Params{{"t": 4.5}, {"t": 4.0}}}
	e := &Engine{Strategy: strat, Required: []string{"t"}}

	res, err := e.Optimize(context.Background(), cutoffFactory, tenRows(), tenRows(), ml.Space{"t": {4.0, 4.5}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 4.5, res.Best["t"])
}

func TestOptimize_AllRoundsRunEvenAfterPerfectScore(t *testing.T) {
	strat := &scripted{seq: []ml.Params{{"t": 4.0}}}
	e := &Engine{Strategy: strat, Required: []string{"t"}}

	res, err := e.Optimize(context.Background(), cutoffFactory, tenRows(), tenRows(), ml.Space{"t": {4.0}}, 5)
	require.NoError(t, err)
	assert.Len(t, res.Trials, 5)
}

func TestOptimize_Errors(t *testing.T) {
	e := &Engine{Strategy: NewRandomSearch(1), Required: []string{"t"}}
	ctx := context.Background()

	_, err := e.Optimize(ctx, cutoffFactory, tenRows(), tenRows(), ml.Space{"t": {1.0}}, 0)
	assert.ErrorIs(t, err, common.ErrEmptySearchBudget)

	_, err = e.Optimize(ctx, cutoffFactory, tenRows(), tenRows(), ml.Space{"u": {1.0}}, 3)
	assert.ErrorIs(t, err, common.ErrSpaceIncomplete)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Optimize(cancelled, cutoffFactory, tenRows(), tenRows(), ml.Space{"t": {1.0}}, 3)
	assert.ErrorIs(t, err, context.Canceled)

	failing := func(ml.Params) (ml.Classifier, error) { return nil, errors.New("boom") }
	_, err = e.Optimize(ctx, failing, tenRows(), tenRows(), ml.Space{"t": {1.0}}, 2)
	assert.Error(t, err)
}

func TestOptimize_FixedParamsOverrideProposals(t *testing.T) {
	var seen []ml.Params
	factory := func(p ml.Params) (ml.Classifier, error) {
		seen = append(seen, p)
		return cutoffFactory(p)
	}
	e := &Engine{Strategy: NewRandomSearch(1), Required: []string{"t"}, Fixed: ml.Params{"t": 4.0, "seed": 5}}
	space := ml.Space{"t": {0.0, 8.0}}
	res, err := e.Optimize(context.Background(), factory, tenRows(), tenRows(), space, 3)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	for _, p := range seen {
		assert.Equal(t, 4.0, p["t"])
		assert.Equal(t, 5, p["seed"])
	}
	assert.Equal(t, 1.0, res.BestScore)

	// the result is a point of the space, not the merged configuration
	assert.NotContains(t, res.Best, "seed")
	assert.Contains(t, space["t"], res.Best["t"])
	for _, tr := range res.Trials {
		assert.NotContains(t, tr.Params, "seed")
	}

	merged := e.Configure(res.Best)
	assert.Equal(t, 4.0, merged["t"])
	assert.Equal(t, 5, merged["seed"])
	assert.NotContains(t, res.Best, "seed", "Configure must not modify its argument")
}

func TestRandomSearch_SeedDeterminism(t *testing.T) {
	space := ml.Space{
		"n_estimators":  {50, 100, 200},
		"max_depth":     {3, 5, 7},
		"learning_rate": {0.01, 0.1, 0.3},
	}
	a, b := NewRandomSearch(42), NewRandomSearch(42)
	for i := 0; i < 10; i++ {
		pa, pb := a.Propose(space), b.Propose(space)
		assert.Equal(t, pa, pb)
		for k, v := range pa {
			assert.Contains(t, space[k], v)
		}
	}
}

func TestOptimize_RealFamily(t *testing.T) {
	fam, err := ml.LookupFamily(ml.FamilyDecisionTree)
	require.NoError(t, err)

	e := &Engine{Strategy: NewRandomSearch(42), Required: fam.Required, Name: fam.Name}
	res, err := e.Optimize(context.Background(), fam.New, tenRows(), tenRows(), fam.Space, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.BestScore)
}
