// Package service scores modules with a loaded defect model and explains each
// score. A Service starts Unloaded, becomes Loaded exactly once and returns to
// Unloaded only on Close. The loaded Runtime is immutable and shared by every
// request without locking.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"defect-predictor/internal/artifact"
	"defect-predictor/internal/cfg"
	"defect-predictor/internal/common"
	"defect-predictor/internal/drift"
	"defect-predictor/internal/explain"
	"defect-predictor/internal/features"
	"defect-predictor/internal/ml"
)

// ErrAlreadyLoaded is returned by Load when a model is installed.
var ErrAlreadyLoaded = errors.New("model already loaded")

// MetricsInterface defines metrics methods needed by the service
type MetricsInterface interface {
	PredictionsInc()
	PredictionErrorsInc()
	PredictionLatencyObserve(float64)
	PredictionScoresObserve(float64)
	DefectiveInc()
	BatchRequestsInc()
	BatchItemsAdd(int)
	BatchItemFailuresInc()
	ExplainLatencyObserve(float64)
	ExplainTimeoutsInc()
	ExplainDegradedInc()
	ModelLoadedSet(bool)
	ModelAgeSet(float64)
	FeatureDriftSet(feature string, score float64)
}

// Options configure scoring and explanation.
type Options struct {
	TopK           int
	ExplainTimeout time.Duration
	BatchWorkers   int
	// Threshold is the probability a module must exceed to be labelled defective.
	Threshold float64
	Explain   explain.Options
	Drift     drift.Config
}

// OptionsFromSettings maps loaded settings onto service options.
func OptionsFromSettings(s cfg.Settings) Options {
	return Options{
		TopK:           s.ExplainTopK,
		ExplainTimeout: s.ExplainTimeout,
		BatchWorkers:   s.BatchWorkers,
		Threshold:      s.ProbThreshold,
		Explain:        explain.Options{Samples: s.ExplainSamples, Seed: s.Seed},
		Drift:          drift.Config{WindowSize: s.DriftWindow, Threshold: s.DriftThreshold},
	}
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = common.DefaultExplainTopK
	}
	if o.ExplainTimeout <= 0 {
		o.ExplainTimeout = common.DefaultExplainTimeout
	}
	if o.BatchWorkers <= 0 {
		o.BatchWorkers = common.DefaultBatchWorkers
	}
	if o.Threshold <= 0 || o.Threshold >= 1 {
		o.Threshold = common.DefaultProbThreshold
	}
	return o
}

// Runtime is everything a request needs. Its fields are never reassigned once
// installed; Drift guards its own window.
type Runtime struct {
	Model  ml.Model
	Schema features.Schema
	// Explainer is nil when the artifact carried no usable background sample;
	// predictions then come back with an empty explanation.
	Explainer *explain.Explainer
	// Drift is nil under the same condition as Explainer.
	Drift    *drift.Monitor
	Metadata artifact.Metadata
	LoadedAt time.Time
}

// Prediction is the scored result for one module.
type Prediction struct {
	ModuleID    string              `json:"moduleId"`
	Label       string              `json:"label"`
	Probability float64             `json:"probability"`
	Explanation explain.Explanation `json:"limeFeatures"`
}

// BatchItem is one module of a batch request.
type BatchItem struct {
	ModuleID string
	Features map[string]any
}

// BatchResult holds either a score or the error for one batch item.
type BatchResult struct {
	ModuleID    string
	Label       string
	Probability float64
	Err         error
}

// Service is the prediction orchestrator.
type Service struct {
	runtime atomic.Pointer[Runtime]
	opts    Options
	metrics MetricsInterface
}

// New creates an unloaded service. metrics may be nil.
func New(opts Options, metrics MetricsInterface) *Service {
	return &Service{opts: opts.withDefaults(), metrics: metrics}
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}

// LoadFile reads an artifact from path and installs it.
func (s *Service) LoadFile(path string) error {
	a, err := artifact.Load(path)
	if err != nil {
		return err
	}
	return s.Load(a, path)
}

// Load builds the runtime for a and installs it. It fails if a model is
// already loaded. A missing or unusable background sample does not fail the
// load; the explainer is simply left out.
func (s *Service) Load(a *artifact.Artifact, path string) error {
	if s.runtime.Load() != nil {
		return ErrAlreadyLoaded
	}
	if err := a.Validate(); err != nil {
		return err
	}

	rt := &Runtime{
		Model:    a.Model,
		Schema:   a.Schema.Clone(),
		Metadata: a.Metadata(path),
		LoadedAt: time.Now(),
	}
	explainer, err := explain.New(a.Background, a.Schema, s.opts.Explain)
	if err != nil {
		log.Warn().Err(err).Str("model_path", path).Msg("Explainer unavailable, predictions will carry no explanation")
	} else {
		rt.Explainer = explainer
	}
	if monitor, err := drift.NewMonitor(a.Background, a.Schema, s.opts.Drift); err == nil {
		rt.Drift = monitor
	}

	if !s.runtime.CompareAndSwap(nil, rt) {
		return ErrAlreadyLoaded
	}

	if s.metrics != nil {
		s.metrics.ModelLoadedSet(true)
		if !a.TrainedAt.IsZero() {
			s.metrics.ModelAgeSet(time.Since(a.TrainedAt).Seconds())
		}
	}

	log.Info().
		Str("model_path", path).
		Str("version", a.Version).
		Str("schema", a.SchemaName).
		Int("features", len(a.Schema)).
		Bool("explainer", rt.Explainer != nil).
		Bool("drift_monitor", rt.Drift != nil).
		Msg("Model loaded")
	return nil
}

// Close unloads the model. Later requests fail with ErrModelNotLoaded.
func (s *Service) Close() {
	if s.runtime.Swap(nil) != nil {
		log.Info().Msg("Model unloaded")
	}
	if s.metrics != nil {
		s.metrics.ModelLoadedSet(false)
	}
}

// Loaded reports whether a model is installed.
func (s *Service) Loaded() bool {
	return s.runtime.Load() != nil
}

// Runtime returns the installed runtime or ErrModelNotLoaded.
func (s *Service) Runtime() (*Runtime, error) {
	rt := s.runtime.Load()
	if rt == nil {
		return nil, common.ErrModelNotLoaded
	}
	return rt, nil
}

// Predict scores one module and explains the score. Explanation failures,
// timeouts included, are logged and yield an empty explanation.
func (s *Service) Predict(ctx context.Context, moduleID string, raw map[string]any) (Prediction, error) {
	start := time.Now()
	if moduleID == "" {
		moduleID = common.UnknownModuleID
	}

	rt, err := s.Runtime()
	if err != nil {
		s.countFailure()
		return Prediction{}, err
	}

	vec, err := features.ToVector(raw, rt.Schema)
	if err != nil {
		s.countFailure()
		return Prediction{}, fmt.Errorf("module %s: %w", moduleID, err)
	}
	if missing := features.MissingKeys(raw, rt.Schema); len(missing) > 0 {
		log.Debug().Str("module_id", moduleID).Strs("missing", missing).Msg("Absent metrics scored as default")
	}
	rt.observe(vec)

	prob := rt.Model.PredictProba(vec)
	pred := Prediction{
		ModuleID:    moduleID,
		Label:       s.label(prob),
		Probability: prob,
		Explanation: s.explain(ctx, rt, moduleID, vec),
	}

	if s.metrics != nil {
		s.metrics.PredictionsInc()
		s.metrics.PredictionScoresObserve(prob)
		s.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
		if pred.Label == common.LabelDefective {
			s.metrics.DefectiveInc()
		}
	}

	log.Debug().
		Str("module_id", moduleID).
		Str("label", pred.Label).
		Float64("probability", prob).
		Int("explained", len(pred.Explanation)).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction served")
	return pred, nil
}

// PredictBatch scores every item without explanations. Items fail
// independently; the batch itself fails only when no model is loaded. Results
// keep the input order.
func (s *Service) PredictBatch(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	rt, err := s.Runtime()
	if err != nil {
		s.countFailure()
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.BatchRequestsInc()
		s.metrics.BatchItemsAdd(len(items))
	}

	results := make([]BatchResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BatchWorkers)

	for i, item := range items {
		g.Go(func() error {
			results[i] = s.scoreItem(gctx, rt, item)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.Debug().Int("items", len(items)).Int("failed", failed).Msg("Batch served")
	return results, nil
}

func (s *Service) scoreItem(ctx context.Context, rt *Runtime, item BatchItem) BatchResult {
	res := BatchResult{ModuleID: item.ModuleID}
	if res.ModuleID == "" {
		res.ModuleID = common.UnknownModuleID
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
	} else if vec, err := features.ToVector(item.Features, rt.Schema); err != nil {
		res.Err = err
	} else {
		rt.observe(vec)
		res.Probability = rt.Model.PredictProba(vec)
		res.Label = s.label(res.Probability)
	}

	if res.Err != nil {
		log.Warn().Err(res.Err).Str("module_id", res.ModuleID).Msg("Batch item rejected")
		if s.metrics != nil {
			s.metrics.BatchItemFailuresInc()
		}
	}
	return res
}

// DriftReport compares recently scored inputs with the training background
// and publishes the per-feature KS scores as metrics.
func (s *Service) DriftReport() (drift.Report, error) {
	rt, err := s.Runtime()
	if err != nil {
		return drift.Report{}, err
	}
	if rt.Drift == nil {
		return drift.Report{}, drift.ErrNoBaseline
	}

	rep := rt.Drift.Report()
	if s.metrics != nil {
		for _, f := range rep.Features {
			s.metrics.FeatureDriftSet(f.Feature, f.Scores[drift.KolmogorovSmirnov])
		}
	}
	if names := rep.Drifted(); len(names) > 0 {
		log.Warn().Strs("features", names).Int("samples", rep.Samples).Msg("Input drift detected")
	}
	return rep, nil
}

func (rt *Runtime) observe(vec []float64) {
	if rt.Drift != nil {
		rt.Drift.Observe(vec)
	}
}

// explain runs the explainer under the configured deadline. An explanation
// with a NaN or Inf weight is dropped since it cannot be encoded.
func (s *Service) explain(ctx context.Context, rt *Runtime, moduleID string, vec []float64) explain.Explanation {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ExplainTimeout)
	defer cancel()

	start := time.Now()
	exp, err := rt.Explainer.Explain(ctx, rt.Model, vec, s.opts.TopK)
	if s.metrics != nil {
		s.metrics.ExplainLatencyObserve(time.Since(start).Seconds())
	}
	if err == nil && !exp.Finite() {
		err = common.ErrExplanationNotFinite
	}
	if err == nil {
		return exp
	}

	log.Warn().Err(err).Str("module_id", moduleID).Msg("Explanation unavailable, returning prediction without it")
	if s.metrics != nil {
		s.metrics.ExplainDegradedInc()
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.ExplainTimeoutsInc()
		}
	}
	return explain.Explanation{}
}

func (s *Service) label(prob float64) string {
	if prob > s.opts.Threshold {
		return common.LabelDefective
	}
	return common.LabelNonDefective
}

func (s *Service) countFailure() {
	if s.metrics != nil {
		s.metrics.PredictionErrorsInc()
	}
}
