package ml

import "math"

// GradientBoosting fits shallow regression trees to the logistic-loss gradient,
// taking a Newton step in every leaf.
type GradientBoosting struct {
	NEstimators  int
	MaxDepth     int
	LearningRate float64
	Lambda       float64
	Seed         int64
	Base         float64
	Trees        []*DecisionTree
}

// NewGradientBoosting builds an unfitted booster.
func NewGradientBoosting(p Params) *GradientBoosting {
	return &GradientBoosting{
		NEstimators:  p.Int("n_estimators", 100),
		MaxDepth:     p.Int("max_depth", 3),
		LearningRate: p.Float("learning_rate", 0.1),
		Lambda:       p.Float("lambda", 1.0),
		Seed:         int64(p.Int("seed", 42)),
	}
}

// Fit starts from the log-odds of the class prior and adds one tree per round.
func (gb *GradientBoosting) Fit(X [][]float64, y []int) error {
	if _, err := checkTrainingSet(X, y); err != nil {
		return err
	}

	var pos float64
	for _, v := range y {
		pos += float64(v)
	}
	prior := pos / float64(len(y))
	gb.Base = math.Log(prior / (1 - prior))

	raw := make([]float64, len(X))
	for i := range raw {
		raw[i] = gb.Base
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}

	grad := make([]float64, len(X))
	hess := make([]float64, len(X))
	gb.Trees = make([]*DecisionTree, 0, gb.NEstimators)
	for m := 0; m < gb.NEstimators; m++ {
		for i := range X {
			p := sigmoid(raw[i])
			grad[i] = float64(y[i]) - p
			hess[i] = math.Max(p*(1-p), 1e-12)
		}
		tree := &DecisionTree{
			MaxDepth:        gb.MaxDepth,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
			Seed:            gb.Seed + int64(m),
		}
		tree.fitResidual(X, grad, hess, gb.Lambda, idx)
		for i, row := range X {
			raw[i] += gb.LearningRate * tree.eval(row)
		}
		gb.Trees = append(gb.Trees, tree)
	}
	return nil
}

// Margin returns the raw log-odds score for x.
func (gb *GradientBoosting) Margin(x []float64) float64 {
	z := gb.Base
	for _, t := range gb.Trees {
		z += gb.LearningRate * t.eval(x)
	}
	return z
}

func (gb *GradientBoosting) PredictProba(x []float64) float64 {
	return sigmoid(gb.Margin(x))
}

func (gb *GradientBoosting) Predict(x []float64) int {
	return label(gb.PredictProba(x))
}
