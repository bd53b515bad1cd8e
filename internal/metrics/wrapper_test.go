package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	return NewWithRegistry(registry), registry
}

func TestNewWrapper(t *testing.T) {
	metrics, _ := newTestMetrics()
	wrapper := NewWrapper(metrics)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestMetricsWrapper_ScoringMethods(t *testing.T) {
	metrics, _ := newTestMetrics()
	wrapper := NewWrapper(metrics)

	wrapper.PredictionsInc()
	wrapper.PredictionsInc()
	if v := testutil.ToFloat64(metrics.PredictionsTotal); v != 2 {
		t.Errorf("Expected 2 predictions, got %f", v)
	}

	wrapper.PredictionErrorsInc()
	if v := testutil.ToFloat64(metrics.PredictionErrors); v != 1 {
		t.Errorf("Expected 1 prediction error, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.ErrorsTotal); v != 1 {
		t.Errorf("Expected prediction error to count towards errors_total, got %f", v)
	}

	wrapper.DefectiveInc()
	if v := testutil.ToFloat64(metrics.DefectiveTotal); v != 1 {
		t.Errorf("Expected 1 defective prediction, got %f", v)
	}

	wrapper.BatchRequestsInc()
	wrapper.BatchItemsAdd(3)
	wrapper.BatchItemFailuresInc()
	if v := testutil.ToFloat64(metrics.BatchItems); v != 3 {
		t.Errorf("Expected 3 batch items, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.BatchItemFailures); v != 1 {
		t.Errorf("Expected 1 batch item failure, got %f", v)
	}

	// Histograms only need to accept observations.
	wrapper.PredictionLatencyObserve(0.02)
	wrapper.PredictionScoresObserve(0.75)
}

func TestMetricsWrapper_ExplainAndModel(t *testing.T) {
	metrics, _ := newTestMetrics()
	wrapper := NewWrapper(metrics)

	wrapper.ExplainLatencyObserve(0.3)
	wrapper.ExplainTimeoutsInc()
	wrapper.ExplainDegradedInc()
	wrapper.ExplainDegradedInc()

	if v := testutil.ToFloat64(metrics.ExplainTimeouts); v != 1 {
		t.Errorf("Expected 1 explain timeout, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.ExplainDegraded); v != 2 {
		t.Errorf("Expected 2 degraded explanations, got %f", v)
	}

	wrapper.ModelLoadedSet(true)
	if v := testutil.ToFloat64(metrics.ModelLoaded); v != 1 {
		t.Errorf("Expected model loaded gauge 1, got %f", v)
	}
	wrapper.ModelLoadedSet(false)
	if v := testutil.ToFloat64(metrics.ModelLoaded); v != 0 {
		t.Errorf("Expected model loaded gauge 0, got %f", v)
	}

	wrapper.ModelAgeSet(3600)
	if v := testutil.ToFloat64(metrics.ModelAge); v != 3600 {
		t.Errorf("Expected model age 3600, got %f", v)
	}
	wrapper.ModelAge().Add(60)
	if v := testutil.ToFloat64(metrics.ModelAge); v != 3660 {
		t.Errorf("Expected model age 3660 after add, got %f", v)
	}
}

func TestMetricsWrapper_LabelledVectors(t *testing.T) {
	metrics, _ := newTestMetrics()
	wrapper := NewWrapper(metrics)

	wrapper.HTTPRequestObserve("POST", "/predict", 200, 15*time.Millisecond)
	wrapper.HTTPRequestObserve("POST", "/predict", 500, time.Millisecond)
	wrapper.HTTPRequestObserve("POST", "/predict", 200, 5*time.Millisecond)

	if v := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("POST", "/predict", "200")); v != 2 {
		t.Errorf("Expected 2 successful requests, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("POST", "/predict", "500")); v != 1 {
		t.Errorf("Expected 1 failed request, got %f", v)
	}

	wrapper.RunFinished("succeeded")
	wrapper.StageObserve("search", 2*time.Second)
	wrapper.SearchScoreSet("random_forest", 0.81)

	if v := testutil.ToFloat64(metrics.TrainingRuns.WithLabelValues("succeeded")); v != 1 {
		t.Errorf("Expected 1 successful run, got %f", v)
	}
	if v := testutil.ToFloat64(metrics.SearchBestScore.WithLabelValues("random_forest")); v != 0.81 {
		t.Errorf("Expected best F1 0.81, got %f", v)
	}

	wrapper.FeatureDriftSet("loc", 0.12)
	wrapper.FeatureDriftSet("loc", 0.4)
	if v := testutil.ToFloat64(metrics.FeatureDrift.WithLabelValues("loc")); v != 0.4 {
		t.Errorf("Expected drift 0.4, got %f", v)
	}
}

func TestGetErrorRate(t *testing.T) {
	metrics, registry := newTestMetrics()
	wrapper := NewWrapper(metrics)

	if rate := metrics.GetErrorRate(registry); rate != 0 {
		t.Errorf("Expected error rate 0 with no traffic, got %f", rate)
	}

	for i := 0; i < 3; i++ {
		wrapper.PredictionsInc()
	}
	wrapper.BatchItemsAdd(5)
	wrapper.PredictionErrorsInc()
	wrapper.BatchItemFailuresInc()

	if rate := metrics.GetErrorRate(registry); rate != 0.25 {
		t.Errorf("Expected error rate 0.25, got %f", rate)
	}
}

func TestCounterWrapper_DirectUsage(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter for unit tests",
	})

	wrapper := &CounterWrapper{c: counter}

	wrapper.Inc()
	if value := testutil.ToFloat64(counter); value != 1 {
		t.Errorf("Expected counter value 1, got %f", value)
	}
}

func TestGaugeWrapper_DirectUsage(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge for unit tests",
	})

	wrapper := &GaugeWrapper{g: gauge}

	wrapper.Set(42.0)
	if value := testutil.ToFloat64(gauge); value != 42.0 {
		t.Errorf("Expected gauge value 42.0, got %f", value)
	}

	wrapper.Add(8.0)
	if value := testutil.ToFloat64(gauge); value != 50.0 {
		t.Errorf("Expected gauge value 50.0 after add, got %f", value)
	}
}

func TestHistogramWrapper_DirectUsage(t *testing.T) {
	metrics, _ := newTestMetrics()
	wrapper := NewWrapper(metrics)

	// Should not panic
	wrapper.PredictionLatency().Observe(0.5)
}

func TestMetricsWrapper_ConcurrentAccess(t *testing.T) {
	metrics, _ := newTestMetrics()
	wrapper := NewWrapper(metrics)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				wrapper.PredictionsInc()
				wrapper.PredictionLatencyObserve(0.01)
				wrapper.ExplainDegradedInc()
			}
		}()
	}
	wg.Wait()

	expected := 1000.0
	if v := testutil.ToFloat64(metrics.PredictionsTotal); v != expected {
		t.Errorf("Expected %f predictions after concurrent access, got %f", expected, v)
	}
	if v := testutil.ToFloat64(metrics.ExplainDegraded); v != expected {
		t.Errorf("Expected %f degraded explanations after concurrent access, got %f", expected, v)
	}
}

func TestMetricsWrapper_NilGuard(t *testing.T) {
	wrapper := &MetricsWrapper{m: nil}

	// NewWrapper never produces this; dereferencing nil metrics panics.
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when accessing nil metrics")
		}
	}()

	wrapper.PredictionsInc()
}

func BenchmarkMetricsWrapper_PredictionsInc(b *testing.B) {
	metrics, _ := newTestMetrics()
	wrapper := NewWrapper(metrics)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapper.PredictionsInc()
	}
}

func BenchmarkMetricsWrapper_HTTPRequestObserve(b *testing.B) {
	metrics, _ := newTestMetrics()
	wrapper := NewWrapper(metrics)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapper.HTTPRequestObserve("POST", "/predict", 200, time.Millisecond)
	}
}
