package ml

import (
	"math"
	"math/rand"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RandomForest averages bootstrap-trained trees, each split drawing from a
// random sqrt(d) subset of the features.
type RandomForest struct {
	NEstimators    int
	MaxDepth       int
	MinSamplesLeaf int
	Seed           int64
	Trees          []*DecisionTree
}

// NewRandomForest builds an unfitted forest. max_depth 0 grows trees until pure.
func NewRandomForest(p Params) *RandomForest {
	return &RandomForest{
		NEstimators:    p.Int("n_estimators", 100),
		MaxDepth:       p.Int("max_depth", 0),
		MinSamplesLeaf: p.Int("min_samples_leaf", 1),
		Seed:           int64(p.Int("seed", 42)),
	}
}

// Fit trains the trees in parallel. Bootstrap draws and tree seeds come from a
// single seeded source before any tree starts, so results do not depend on
// scheduling.
func (f *RandomForest) Fit(X [][]float64, y []int) error {
	width, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	n := max(f.NEstimators, 1)
	maxFeatures := max(int(math.Sqrt(float64(width))), 1)

	rng := rand.New(rand.NewSource(f.Seed))
	samples := make([][]int, n)
	seeds := make([]int64, n)
	for t := 0; t < n; t++ {
		boot := make([]int, len(X))
		for i := range boot {
			boot[i] = rng.Intn(len(X))
		}
		samples[t] = boot
		seeds[t] = rng.Int63()
	}

	target := make([]float64, len(y))
	for i, v := range y {
		target[i] = float64(v)
	}

	trees := make([]*DecisionTree, n)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < n; t++ {
		g.Go(func() error {
			tree := &DecisionTree{
				MaxDepth:        f.MaxDepth,
				MinSamplesSplit: 2,
				MinSamplesLeaf:  f.MinSamplesLeaf,
				MaxFeatures:     maxFeatures,
				Seed:            seeds[t],
			}
			tree.grow(X, target, nil, 0, samples[t])
			trees[t] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees

	deepest := 0
	for _, t := range trees {
		deepest = max(deepest, t.Depth())
	}
	log.Debug().Int("trees", n).Int("max_depth", f.MaxDepth).Int("deepest", deepest).Msg("Random forest fitted")
	return nil
}

// PredictProba averages the trees' leaf fractions.
func (f *RandomForest) PredictProba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.Trees {
		sum += t.PredictProba(x)
	}
	return sum / float64(len(f.Trees))
}

func (f *RandomForest) Predict(x []float64) int {
	return label(f.PredictProba(x))
}
