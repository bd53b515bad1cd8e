// Package common holds the constants and error taxonomy shared by the training
// pipeline and the scoring service.
package common

import "errors"

// Input errors
var (
	// ErrSchemaMismatch is returned when a dataset or request lacks required feature columns.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInvalidMetricValue is returned when a metric value cannot be coerced to a number.
	ErrInvalidMetricValue = errors.New("invalid metric value")
)

// Serving errors
var (
	ErrModelNotLoaded          = errors.New("model not loaded")
	ErrExplainerNotInitialized = errors.New("explainer not initialized")
	ErrExplanationNotFinite    = errors.New("explanation has non-finite weights")
)

// Training configuration errors. They are fatal to the run that raised them.
var (
	ErrInsufficientMinoritySamples = errors.New("insufficient minority samples")
	ErrTrainingDataEmpty           = errors.New("training data empty")
	ErrLabelCardinality            = errors.New("fewer than two distinct labels")
	ErrEmptySearchBudget           = errors.New("empty search budget")
)

// Search errors
var (
	// ErrSpaceIncomplete is returned when a search space is missing a parameter the
	// model family requires, or offers no candidates for it.
	ErrSpaceIncomplete = errors.New("search space incomplete")
)
