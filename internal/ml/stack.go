package ml

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Stack is a two-layer ensemble: a meta model scores the vector of base-model
// probabilities.
type Stack struct {
	BaseNames []string
	Bases     []Model
	Meta      Model
}

// StackOptions controls how meta features are produced.
type StackOptions struct {
	// Folds is the number of stratified folds for out-of-fold meta features.
	// Below 2 the meta model is fitted on in-sample base predictions.
	Folds int
	Seed  int64
}

// FitStack trains every base model spec on the full training set and a meta model on
// the bases' out-of-fold probabilities. When the smaller class has fewer rows
// than Folds, the fold count is reduced to fit it.
func FitStack(X [][]float64, y []int, bases []ModelSpec, meta ModelSpec, opts StackOptions) (*Stack, error) {
	if _, err := checkTrainingSet(X, y); err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return nil, fmt.Errorf("stack needs at least one base model")
	}

	folds := opts.Folds
	if minClass := minClassCount(y); folds > minClass {
		log.Warn().Int("folds", folds).Int("min_class", minClass).Msg("Reducing stacking folds to smallest class size")
		folds = minClass
	}

	var metaX [][]float64
	var err error
	if folds < 2 {
		metaX, err = inSampleFeatures(X, y, bases)
	} else {
		metaX, err = outOfFoldFeatures(X, y, bases, folds, opts.Seed)
	}
	if err != nil {
		return nil, err
	}

	metaModel, err := meta.Build()
	if err != nil {
		return nil, fmt.Errorf("meta model: %w", err)
	}
	if err := metaModel.Fit(metaX, y); err != nil {
		return nil, fmt.Errorf("fit meta model %s: %w", meta.Family, err)
	}

	fitted, err := fitAll(X, y, bases)
	if err != nil {
		return nil, err
	}

	s := &Stack{Meta: metaModel}
	for i, b := range bases {
		s.BaseNames = append(s.BaseNames, b.Family)
		s.Bases = append(s.Bases, fitted[i])
	}

	log.Info().
		Strs("bases", s.BaseNames).
		Str("meta", meta.Family).
		Int("folds", folds).
		Int("rows", len(X)).
		Msg("Stacked ensemble trained")

	return s, nil
}

// MetaFeatures returns the base-model probabilities for x.
func (s *Stack) MetaFeatures(x []float64) []float64 {
	out := make([]float64, len(s.Bases))
	for i, b := range s.Bases {
		out[i] = b.PredictProba(x)
	}
	return out
}

func (s *Stack) PredictProba(x []float64) float64 {
	return s.Meta.PredictProba(s.MetaFeatures(x))
}

func (s *Stack) Predict(x []float64) int {
	return label(s.PredictProba(x))
}

func fitAll(X [][]float64, y []int, specs []ModelSpec) ([]Classifier, error) {
	out := make([]Classifier, len(specs))
	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			c, err := spec.Build()
			if err != nil {
				return fmt.Errorf("base model %d: %w", i, err)
			}
			if err := c.Fit(X, y); err != nil {
				return fmt.Errorf("fit base model %s: %w", spec.Family, err)
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func inSampleFeatures(X [][]float64, y []int, bases []ModelSpec) ([][]float64, error) {
	fitted, err := fitAll(X, y, bases)
	if err != nil {
		return nil, err
	}
	metaX := make([][]float64, len(X))
	for i, row := range X {
		metaX[i] = make([]float64, len(fitted))
		for b, m := range fitted {
			metaX[i][b] = m.PredictProba(row)
		}
	}
	return metaX, nil
}

func outOfFoldFeatures(X [][]float64, y []int, bases []ModelSpec, folds int, seed int64) ([][]float64, error) {
	assign := StratifiedFolds(y, folds, seed)
	metaX := make([][]float64, len(X))
	for i := range metaX {
		metaX[i] = make([]float64, len(bases))
	}

	for k := 0; k < folds; k++ {
		var trX [][]float64
		var trY []int
		var hold []int
		for i, f := range assign {
			if f == k {
				hold = append(hold, i)
			} else {
				trX = append(trX, X[i])
				trY = append(trY, y[i])
			}
		}
		fitted, err := fitAll(trX, trY, bases)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", k, err)
		}
		for _, i := range hold {
			for b, m := range fitted {
				metaX[i][b] = m.PredictProba(X[i])
			}
		}
	}
	return metaX, nil
}

// StratifiedFolds assigns each row a fold in [0, k) so every fold keeps the
// class proportions of y.
func StratifiedFolds(y []int, k int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	byClass := map[int][]int{}
	for i, v := range y {
		byClass[v] = append(byClass[v], i)
	}
	assign := make([]int, len(y))
	for _, cls := range []int{0, 1} {
		idx := byClass[cls]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		for pos, i := range idx {
			assign[i] = pos % k
		}
	}
	return assign
}

func minClassCount(y []int) int {
	var pos int
	for _, v := range y {
		pos += v
	}
	return min(pos, len(y)-pos)
}

var _ Model = (*Stack)(nil)

// compile-time check that every family satisfies Classifier
var (
	_ Classifier = (*DecisionTree)(nil)
	_ Classifier = (*RandomForest)(nil)
	_ Classifier = (*GradientBoosting)(nil)
	_ Classifier = (*LogisticRegression)(nil)
	_ Classifier = (*MLP)(nil)
)
