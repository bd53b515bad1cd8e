package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

type MetricsHistogram interface {
	Observe(float64)
}

// MetricsWrapper adapts Metrics to the narrow interfaces the service, server
// and training packages depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// Scoring

func (w *MetricsWrapper) PredictionsInc() {
	w.m.PredictionsTotal.Inc()
}

func (w *MetricsWrapper) PredictionErrorsInc() {
	w.m.PredictionErrors.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) PredictionLatencyObserve(v float64) {
	w.m.PredictionLatency.Observe(v)
}

func (w *MetricsWrapper) PredictionScoresObserve(v float64) {
	w.m.PredictionScores.Observe(v)
}

func (w *MetricsWrapper) DefectiveInc() {
	w.m.DefectiveTotal.Inc()
}

func (w *MetricsWrapper) BatchRequestsInc() {
	w.m.BatchRequests.Inc()
}

func (w *MetricsWrapper) BatchItemsAdd(n int) {
	w.m.BatchItems.Add(float64(n))
}

func (w *MetricsWrapper) BatchItemFailuresInc() {
	w.m.BatchItemFailures.Inc()
}

// Explanations

func (w *MetricsWrapper) ExplainLatencyObserve(v float64) {
	w.m.ExplainLatency.Observe(v)
}

func (w *MetricsWrapper) ExplainTimeoutsInc() {
	w.m.ExplainTimeouts.Inc()
}

func (w *MetricsWrapper) ExplainDegradedInc() {
	w.m.ExplainDegraded.Inc()
}

// Model

func (w *MetricsWrapper) ModelLoadedSet(loaded bool) {
	if loaded {
		w.m.ModelLoaded.Set(1)
		return
	}
	w.m.ModelLoaded.Set(0)
}

func (w *MetricsWrapper) ModelAgeSet(v float64) {
	w.m.ModelAge.Set(v)
}

func (w *MetricsWrapper) FeatureDriftSet(feature string, score float64) {
	w.m.FeatureDrift.WithLabelValues(feature).Set(score)
}

// HTTP

func (w *MetricsWrapper) HTTPRequestObserve(method, route string, status int, d time.Duration) {
	w.m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	w.m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Training

func (w *MetricsWrapper) StageObserve(stage string, d time.Duration) {
	w.m.TrainingStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (w *MetricsWrapper) RunFinished(status string) {
	w.m.TrainingRuns.WithLabelValues(status).Inc()
}

func (w *MetricsWrapper) SearchScoreSet(family string, f1 float64) {
	w.m.SearchBestScore.WithLabelValues(family).Set(f1)
}

// Raw collectors for callers that want the narrow interfaces directly.

func (w *MetricsWrapper) ErrorsTotal() MetricsCounter {
	return &CounterWrapper{w.m.ErrorsTotal}
}

func (w *MetricsWrapper) ModelAge() MetricsGauge {
	return &GaugeWrapper{w.m.ModelAge}
}

func (w *MetricsWrapper) PredictionLatency() MetricsHistogram {
	return &HistogramWrapper{w.m.PredictionLatency}
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}

type HistogramWrapper struct {
	h prometheus.Histogram
}

func (hw *HistogramWrapper) Observe(v float64) {
	hw.h.Observe(v)
}
