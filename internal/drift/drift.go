// Package drift compares the metric vectors a model is asked to score with the
// training rows it was fitted on, so operators notice when the code base being
// scored no longer looks like the one the model learned from.
package drift

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"defect-predictor/internal/features"
)

// ErrNoBaseline is returned when there are no training rows to compare with.
var ErrNoBaseline = errors.New("drift baseline is empty")

// Method names a drift score.
type Method string

const (
	KolmogorovSmirnov        Method = "kolmogorov_smirnov"
	PopulationStabilityIndex Method = "population_stability_index"
	StatisticalMoments       Method = "statistical_moments"
)

const psiBins = 10

// Config controls a Monitor.
type Config struct {
	// WindowSize is how many recent vectors are kept.
	WindowSize int
	// MinSamples is the window fill needed before scores are reported.
	MinSamples int
	// Threshold is the KS statistic above which a feature is flagged.
	Threshold float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 500
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 30
	}
	if c.MinSamples > c.WindowSize {
		c.MinSamples = c.WindowSize
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.3
	}
	return c
}

// FeatureStatus holds the drift scores of one feature.
type FeatureStatus struct {
	Feature        string             `json:"feature"`
	BaselineMean   float64            `json:"baseline_mean"`
	BaselineStdDev float64            `json:"baseline_std_dev"`
	Mean           float64            `json:"mean"`
	StdDev         float64            `json:"std_dev"`
	Scores         map[Method]float64 `json:"scores"`
	Severity       string             `json:"severity,omitempty"`
	Drifted        bool               `json:"drifted"`
}

// Report is a point-in-time drift summary.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Samples     int             `json:"samples"`
	Baseline    int             `json:"baseline_rows"`
	Ready       bool            `json:"ready"`
	Threshold   float64         `json:"threshold"`
	Features    []FeatureStatus `json:"features,omitempty"`
}

// Drifted returns the names of flagged features.
func (r Report) Drifted() []string {
	var out []string
	for _, f := range r.Features {
		if f.Drifted {
			out = append(out, f.Feature)
		}
	}
	return out
}

type column struct {
	sorted []float64
	mean   float64
	std    float64
	min    float64
	max    float64
}

// Monitor keeps a ring buffer of scored vectors. It is safe for concurrent use.
type Monitor struct {
	cfg      Config
	schema   features.Schema
	baseline []column

	mu     sync.Mutex
	window [][]float64 // per feature
	next   int
	filled int
}

// NewMonitor builds a monitor from background rows in schema order.
func NewMonitor(background [][]float64, schema features.Schema, cfg Config) (*Monitor, error) {
	if len(background) == 0 {
		return nil, ErrNoBaseline
	}
	cfg = cfg.withDefaults()

	m := &Monitor{
		cfg:      cfg,
		schema:   schema.Clone(),
		baseline: make([]column, len(schema)),
		window:   make([][]float64, len(schema)),
	}
	for j := range schema {
		vals := make([]float64, len(background))
		for i, row := range background {
			if len(row) != len(schema) {
				return nil, fmt.Errorf("background row %d has %d features, schema has %d", i, len(row), len(schema))
			}
			vals[i] = row[j]
		}
		m.baseline[j] = summarise(vals)
		m.window[j] = make([]float64, cfg.WindowSize)
	}
	return m, nil
}

// Observe records one scored vector. Vectors of the wrong width are ignored.
func (m *Monitor) Observe(x []float64) {
	if len(x) != len(m.schema) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for j, v := range x {
		m.window[j][m.next] = v
	}
	m.next = (m.next + 1) % m.cfg.WindowSize
	if m.filled < m.cfg.WindowSize {
		m.filled++
	}
}

// Reset drops every observed vector.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.next, m.filled = 0, 0
	m.mu.Unlock()
}

// Report scores the current window against the baseline.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	n := m.filled
	current := make([][]float64, len(m.schema))
	for j := range m.window {
		current[j] = append([]float64(nil), m.window[j][:n]...)
	}
	m.mu.Unlock()

	rep := Report{
		GeneratedAt: time.Now(),
		Samples:     n,
		Baseline:    len(m.baseline[0].sorted),
		Threshold:   m.cfg.Threshold,
		Ready:       n >= m.cfg.MinSamples,
	}
	if !rep.Ready {
		return rep
	}

	rep.Features = make([]FeatureStatus, len(m.schema))
	for j, name := range m.schema {
		base := m.baseline[j]
		cur := summarise(current[j])
		ks := ksStatistic(base.sorted, cur.sorted)

		st := FeatureStatus{
			Feature:        name,
			BaselineMean:   base.mean,
			BaselineStdDev: base.std,
			Mean:           cur.mean,
			StdDev:         cur.std,
			Scores: map[Method]float64{
				KolmogorovSmirnov:        ks,
				PopulationStabilityIndex: psi(base, cur),
				StatisticalMoments:       moments(base, cur),
			},
		}
		if ks > m.cfg.Threshold {
			st.Drifted = true
			st.Severity = severity(ks, m.cfg.Threshold)
		}
		rep.Features[j] = st
	}
	return rep
}

func summarise(vals []float64) column {
	c := column{sorted: append([]float64(nil), vals...)}
	sort.Float64s(c.sorted)
	if len(vals) == 0 {
		return c
	}
	c.min, c.max = c.sorted[0], c.sorted[len(c.sorted)-1]
	c.mean, _ = stats.Mean(vals)
	c.std, _ = stats.StandardDeviationPopulation(vals)
	return c
}

// ksStatistic is the two-sample Kolmogorov-Smirnov distance between sorted
// samples a and b.
func ksStatistic(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	na, nb := float64(len(a)), float64(len(b))
	var i, j int
	maxDiff := 0.0
	for i < len(a) && j < len(b) {
		v := math.Min(a[i], b[j])
		for i < len(a) && a[i] == v {
			i++
		}
		for j < len(b) && b[j] == v {
			j++
		}
		if d := math.Abs(float64(i)/na - float64(j)/nb); d > maxDiff {
			maxDiff = d
		}
	}
	return maxDiff
}

// psi is the population stability index over equal-width bins spanning both
// samples. Empty bins are skipped.
func psi(base, cur column) float64 {
	lo, hi := math.Min(base.min, cur.min), math.Max(base.max, cur.max)
	if hi == lo || len(base.sorted) == 0 || len(cur.sorted) == 0 {
		return 0
	}
	width := (hi - lo) / psiBins

	bin := func(v float64) int {
		b := int((v - lo) / width)
		return max(0, min(psiBins-1, b))
	}
	var bc, cc [psiBins]float64
	for _, v := range base.sorted {
		bc[bin(v)]++
	}
	for _, v := range cur.sorted {
		cc[bin(v)]++
	}

	total := 0.0
	for k := range psiBins {
		p := bc[k] / float64(len(base.sorted))
		q := cc[k] / float64(len(cur.sorted))
		if p > 0 && q > 0 {
			total += (q - p) * math.Log(q/p)
		}
	}
	return math.Abs(total)
}

// moments averages the normalised shift in mean and standard deviation.
func moments(base, cur column) float64 {
	mean := math.Abs(base.mean-cur.mean) / (1 + math.Abs(base.mean))
	std := math.Abs(base.std-cur.std) / (1 + base.std)
	return (mean + std) / 2
}

func severity(score, threshold float64) string {
	switch {
	case score > threshold*3:
		return "critical"
	case score > threshold*2:
		return "high"
	default:
		return "medium"
	}
}
