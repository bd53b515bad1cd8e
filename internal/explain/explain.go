// Package explain produces per-prediction feature attributions by fitting a
// locally weighted linear surrogate around the instance being scored.
package explain

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"defect-predictor/internal/common"
	"defect-predictor/internal/features"
	"defect-predictor/internal/ml"
)

// checkEvery is how many perturbed samples are scored between context checks.
const checkEvery = 256

// Options tune the surrogate fit.
type Options struct {
	// Samples is the neighbourhood size, instance included.
	Samples int
	// KernelWidth scales the exponential proximity kernel. Zero means 0.75*sqrt(d).
	KernelWidth float64
	// Ridge is the L2 penalty of the surrogate.
	Ridge float64
	Seed  int64
}

// Explainer holds the background statistics used to perturb instances. It is
// immutable after New and safe for concurrent use.
type Explainer struct {
	schema features.Schema
	mean   []float64
	std    []float64
	opts   Options
}

// New computes per-feature mean and standard deviation over background rows.
func New(background [][]float64, schema features.Schema, opts Options) (*Explainer, error) {
	if len(background) == 0 || len(schema) == 0 {
		return nil, common.ErrExplainerNotInitialized
	}
	d := len(schema)
	for i, row := range background {
		if len(row) != d {
			return nil, fmt.Errorf("%w: background row %d has %d features, schema has %d",
				common.ErrSchemaMismatch, i, len(row), d)
		}
	}

	if opts.Samples <= 0 {
		opts.Samples = common.DefaultExplainSamples
	}
	if opts.KernelWidth <= 0 {
		opts.KernelWidth = 0.75 * math.Sqrt(float64(d))
	}
	if opts.Ridge <= 0 {
		opts.Ridge = 1.0
	}

	e := &Explainer{
		schema: schema.Clone(),
		mean:   make([]float64, d),
		std:    make([]float64, d),
		opts:   opts,
	}
	col := make(stats.Float64Data, len(background))
	for j := 0; j < d; j++ {
		for i, row := range background {
			col[i] = row[j]
		}
		mean, err := stats.Mean(col)
		if err != nil {
			return nil, fmt.Errorf("background mean for %s: %w", schema[j], err)
		}
		sd, err := stats.StandardDeviation(col)
		if err != nil {
			return nil, fmt.Errorf("background std for %s: %w", schema[j], err)
		}
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		e.mean[j], e.std[j] = mean, sd
	}
	return e, nil
}

// Schema returns the feature names the explainer was built for.
func (e *Explainer) Schema() features.Schema {
	return e.schema.Clone()
}

// Explain returns the topK features with the largest absolute surrogate weight,
// ordered by descending magnitude. topK larger than the schema returns every
// feature; topK <= 0 returns an empty explanation. The surrogate is seeded from Options.Seed and the instance, so
// the same input always yields the same explanation.
func (e *Explainer) Explain(ctx context.Context, model ml.Model, vector []float64, topK int) (Explanation, error) {
	if e == nil {
		return nil, common.ErrExplainerNotInitialized
	}
	d := len(e.schema)
	if len(vector) != d {
		return nil, fmt.Errorf("%w: vector has %d features, schema has %d", common.ErrSchemaMismatch, len(vector), d)
	}
	if topK <= 0 {
		return Explanation{}, nil
	}

	weights, err := e.surrogate(ctx, model, vector)
	if err != nil {
		return nil, err
	}

	order := make([]int, d)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(weights[order[a]]) > math.Abs(weights[order[b]])
	})
	if topK > d {
		topK = d
	}

	out := make(Explanation, topK)
	for i := 0; i < topK; i++ {
		j := order[i]
		out[i] = Contribution{Feature: e.schema[j], Weight: weights[j]}
	}
	return out, nil
}

// surrogate samples the neighbourhood, scores it with model and solves the
// kernel-weighted ridge regression. It returns one weight per feature.
func (e *Explainer) surrogate(ctx context.Context, model ml.Model, vector []float64) ([]float64, error) {
	d := len(vector)
	n := e.opts.Samples
	rng := rand.New(rand.NewSource(e.opts.Seed ^ hashVector(vector)))

	scaledX := mat.NewDense(n, d, nil)
	y := make([]float64, n)
	w := make([]float64, n)

	sample := make([]float64, d)
	origin := make([]float64, d)
	for j := range origin {
		origin[j] = (vector[j] - e.mean[j]) / e.std[j]
	}
	width2 := e.opts.KernelWidth * e.opts.KernelWidth

	for i := 0; i < n; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var dist2 float64
		for j := 0; j < d; j++ {
			if i == 0 {
				sample[j] = vector[j]
			} else {
				sample[j] = vector[j] + rng.NormFloat64()*e.std[j]
			}
			z := (sample[j] - e.mean[j]) / e.std[j]
			scaledX.Set(i, j, z)
			diff := z - origin[j]
			dist2 += diff * diff
		}
		y[i] = model.PredictProba(sample)
		w[i] = math.Sqrt(math.Exp(-dist2 / width2))
	}

	return weightedRidge(scaledX, y, w, e.opts.Ridge)
}

// weightedRidge solves min sum w_i (y_i - b - x_i.beta)^2 + ridge*|beta|^2 by
// centring on the weighted means, which leaves the intercept unpenalised.
func weightedRidge(X *mat.Dense, y, w []float64, ridge float64) ([]float64, error) {
	n, d := X.Dims()

	var wSum, yMean float64
	xMean := make([]float64, d)
	for i := 0; i < n; i++ {
		wSum += w[i]
		yMean += w[i] * y[i]
		for j := 0; j < d; j++ {
			xMean[j] += w[i] * X.At(i, j)
		}
	}
	if wSum == 0 {
		return nil, fmt.Errorf("surrogate weights sum to zero")
	}
	yMean /= wSum
	for j := range xMean {
		xMean[j] /= wSum
	}

	// rows scaled by sqrt(w) turn the weighted problem into ordinary ridge
	xc := mat.NewDense(n, d, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		for j := 0; j < d; j++ {
			xc.Set(i, j, sw*(X.At(i, j)-xMean[j]))
		}
		yc.SetVec(i, sw*(y[i]-yMean))
	}

	gram := mat.NewSymDense(d, nil)
	gram.SymOuterK(1, xc.T())
	for j := 0; j < d; j++ {
		gram.SetSym(j, j, gram.At(j, j)+ridge)
	}
	rhs := mat.NewVecDense(d, nil)
	rhs.MulVec(xc.T(), yc)

	var chol mat.Cholesky
	beta := mat.NewVecDense(d, nil)
	if chol.Factorize(gram) {
		if err := chol.SolveVecTo(beta, rhs); err != nil {
			return nil, fmt.Errorf("surrogate solve: %w", err)
		}
	} else if err := beta.SolveVec(gram, rhs); err != nil {
		return nil, fmt.Errorf("surrogate solve: %w", err)
	}

	out := make([]float64, d)
	for j := range out {
		out[j] = beta.AtVec(j)
	}
	return out, nil
}

func hashVector(v []float64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, f := range v {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	return int64(h.Sum64())
}
