// Package metrics provides Prometheus metrics for the defect scoring service and
// the training pipeline. Every metric is registered on creation, either on the
// default registry or on one supplied by the caller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Scoring metrics
	PredictionsTotal  prometheus.Counter   // Single predictions served
	PredictionErrors  prometheus.Counter   // Predictions that failed
	PredictionLatency prometheus.Histogram // End-to-end scoring latency
	PredictionScores  prometheus.Histogram // Distribution of defect probabilities
	DefectiveTotal    prometheus.Counter   // Predictions labelled defective

	// Batch metrics
	BatchRequests     prometheus.Counter // Batch requests served
	BatchItems        prometheus.Counter // Items scored inside batches
	BatchItemFailures prometheus.Counter // Items rejected inside batches

	// Explanation metrics
	ExplainLatency  prometheus.Histogram // Local surrogate fitting latency
	ExplainTimeouts prometheus.Counter   // Explanations cut off by the deadline
	ExplainDegraded prometheus.Counter   // Predictions returned without explanation

	// Model metrics
	ModelLoaded  prometheus.Gauge     // 1 when a model is installed
	ModelAge     prometheus.Gauge     // Seconds since the model was trained
	FeatureDrift *prometheus.GaugeVec // KS distance of recent inputs from training rows

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route and status
	HTTPDuration *prometheus.HistogramVec // Request latency by route

	// Training metrics
	TrainingRuns          *prometheus.CounterVec   // Runs by final status
	TrainingStageDuration *prometheus.HistogramVec // Wall time of each pipeline stage
	SearchBestScore       *prometheus.GaugeVec     // Best validation F1 per family

	// System metrics
	ErrorsTotal prometheus.Counter // Errors encountered at the request boundary
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_predictions_total",
			Help: "Total number of single-module predictions served",
		}),
		PredictionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_prediction_errors_total",
			Help: "Total number of predictions that failed",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "defect_prediction_latency_seconds",
			Help:    "End-to-end prediction latency in seconds, explanation included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "defect_prediction_scores",
			Help:    "Distribution of predicted defect probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DefectiveTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_predictions_defective_total",
			Help: "Total number of modules labelled defective",
		}),
		BatchRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_batch_requests_total",
			Help: "Total number of batch prediction requests",
		}),
		BatchItems: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_batch_items_total",
			Help: "Total number of modules scored in batches",
		}),
		BatchItemFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_batch_item_failures_total",
			Help: "Total number of batch items that returned an error",
		}),
		ExplainLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "defect_explain_latency_seconds",
			Help:    "Explanation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		ExplainTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_explain_timeouts_total",
			Help: "Total number of explanations cut off by their deadline",
		}),
		ExplainDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_explain_degraded_total",
			Help: "Total number of predictions returned with an empty explanation",
		}),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "defect_model_loaded",
			Help: "Whether a model is loaded (1) or not (0)",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "defect_model_age_seconds",
			Help: "Age of the loaded model in seconds",
		}),
		FeatureDrift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "defect_feature_drift_ks",
			Help: "Kolmogorov-Smirnov distance between recent inputs and the training background per feature",
		}, []string{"feature"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "defect_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "defect_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "defect_training_runs_total",
			Help: "Total number of training runs by status",
		}, []string{"status"}),
		TrainingStageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "defect_training_stage_duration_seconds",
			Help:    "Duration of each training pipeline stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		SearchBestScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "defect_search_best_f1",
			Help: "Best validation F1 found by hyperparameter search per model family",
		}, []string{"family"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "defect_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// GetErrorRate returns failed predictions over all predictions, or 0 before any
// prediction has been made.
func (m *Metrics) GetErrorRate(gatherer prometheus.Gatherer) float64 {
	var total, failed float64

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "defect_predictions_total", "defect_batch_items_total":
			for _, metric := range mf.Metric {
				total += metric.GetCounter().GetValue()
			}
		case "defect_prediction_errors_total", "defect_batch_item_failures_total":
			for _, metric := range mf.Metric {
				failed += metric.GetCounter().GetValue()
			}
		}
	}

	if total == 0 {
		return 0
	}
	return failed / total
}
