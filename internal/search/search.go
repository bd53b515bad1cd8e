// Package search tunes a model family's hyperparameters against a validation set.
package search

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"defect-predictor/internal/common"
	"defect-predictor/internal/dataset"
	"defect-predictor/internal/evaluate"
	"defect-predictor/internal/ml"
)

// Strategy proposes configurations and learns from their scores. A population
// or swarm optimiser can implement it in place of RandomSearch.
type Strategy interface {
	Propose(space ml.Space) ml.Params
	Observe(params ml.Params, score float64)
}

// Factory builds an unfitted classifier for a configuration.
type Factory func(ml.Params) (ml.Classifier, error)

// Trial records one evaluated configuration.
type Trial struct {
	Round    int           `json:"round"`
	Params   ml.Params     `json:"params"`
	Score    float64       `json:"score"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Result is the outcome of a search.
type Result struct {
	Best      ml.Params `json:"best"`
	BestScore float64   `json:"best_score"`
	Trials    []Trial   `json:"trials"`
}

// Engine runs a fixed budget of rounds with a strategy.
type Engine struct {
	Strategy Strategy
	// Required lists parameters the space must offer candidates for.
	Required []string
	// Name labels log lines, usually the model family.
	Name string
	// Fixed parameters are handed to the factory with every proposal, overriding
	// it. They are not part of the searched configuration, so Best and
	// Trial.Params never carry them.
	Fixed ml.Params
}

// Configure returns params with Fixed merged in, as the factory receives them.
func (e *Engine) Configure(params ml.Params) ml.Params {
	out := params.Clone()
	for k, v := range e.Fixed {
		out[k] = v
	}
	return out
}

// Optimize evaluates iterations configurations and returns the one with the
// highest validation F1. A later configuration replaces the best only when it
// scores strictly higher, so ties keep the earliest. Every round runs; a round
// whose fit fails is recorded and skipped. The returned Best is always a
// proposal drawn from space, even when every round scores zero.
func (e *Engine) Optimize(ctx context.Context, factory Factory, train, val *dataset.Dataset, space ml.Space, iterations int) (Result, error) {
	if iterations <= 0 {
		return Result{}, common.ErrEmptySearchBudget
	}
	if err := space.Validate(e.Required); err != nil {
		return Result{}, err
	}
	if train.Len() == 0 || val.Len() == 0 {
		return Result{}, common.ErrTrainingDataEmpty
	}

	if size := space.Size(); iterations > size {
		log.Debug().
			Str("family", e.Name).
			Int("rounds", iterations).
			Int("configurations", size).
			Msg("Search budget exceeds the space, configurations will repeat")
	}

	res := Result{BestScore: -1}
	X, y := train.X(), train.Y()
	valY := val.Y()

	for round := 0; round < iterations; round++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		params := e.Strategy.Propose(space)

		start := time.Now()
		score, err := fitAndScore(factory, e.Configure(params), X, y, val, valY)
		trial := Trial{Round: round, Params: params, Score: score, Duration: time.Since(start)}
		if err != nil {
			trial.Err = err.Error()
			log.Warn().Err(err).Str("family", e.Name).Int("round", round).Str("params", params.String()).Msg("Search round failed")
		}
		res.Trials = append(res.Trials, trial)
		e.Strategy.Observe(params, score)

		if err == nil && score > res.BestScore {
			res.Best, res.BestScore = params, score
		}

		log.Debug().
			Str("family", e.Name).
			Int("round", round).
			Str("params", params.String()).
			Float64("f1", score).
			Float64("best_f1", res.BestScore).
			Dur("elapsed", trial.Duration).
			Msg("Search round complete")
	}

	if res.Best == nil {
		return Result{}, fmt.Errorf("search %s: every round failed: %s", e.Name, res.Trials[len(res.Trials)-1].Err)
	}

	log.Info().
		Str("family", e.Name).
		Int("rounds", iterations).
		Str("best", res.Best.String()).
		Float64("best_f1", res.BestScore).
		Msg("Hyperparameter search finished")

	return res, nil
}

func fitAndScore(factory Factory, params ml.Params, X [][]float64, y []int, val *dataset.Dataset, valY []int) (float64, error) {
	model, err := factory(params)
	if err != nil {
		return 0, err
	}
	if err := model.Fit(X, y); err != nil {
		return 0, err
	}
	pred := make([]int, val.Len())
	for i, s := range val.Samples {
		pred[i] = model.Predict(s.Features)
	}
	return evaluate.F1(valY, pred), nil
}

// RandomSearch samples each parameter independently and uniformly from its
// candidates. Keys are visited in sorted order so a seed fixes the sequence.
type RandomSearch struct {
	rng *rand.Rand
}

// NewRandomSearch returns a seeded random search.
func NewRandomSearch(seed int64) *RandomSearch {
	return &RandomSearch{rng: rand.New(rand.NewSource(seed))}
}

func (r *RandomSearch) Propose(space ml.Space) ml.Params {
	params := make(ml.Params, len(space))
	for _, k := range space.Keys() {
		cands := space[k]
		params[k] = cands[r.rng.Intn(len(cands))]
	}
	return params
}

// Observe is a no-op; random search does not adapt.
func (r *RandomSearch) Observe(ml.Params, float64) {}
