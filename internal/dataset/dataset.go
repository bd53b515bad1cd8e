// Package dataset holds labelled metric samples and the loaders and splitters
// the training pipeline runs over them.
package dataset

import (
	"fmt"

	"defect-predictor/internal/features"
)

// LabeledSample is one module's metric vector with its 0/1 defect label.
type LabeledSample struct {
	Features []float64
	Label    int
}

// Dataset is an ordered collection of samples that share one schema.
type Dataset struct {
	Schema  features.Schema
	Samples []LabeledSample
}

// New returns an empty dataset for schema.
func New(schema features.Schema) *Dataset {
	return &Dataset{Schema: schema}
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Samples)
}

// Append adds a sample after checking its width against the schema.
func (d *Dataset) Append(s LabeledSample) error {
	if len(s.Features) != len(d.Schema) {
		return fmt.Errorf("sample has %d features, schema has %d", len(s.Features), len(d.Schema))
	}
	if s.Label != 0 && s.Label != 1 {
		return fmt.Errorf("label %d is not binary", s.Label)
	}
	d.Samples = append(d.Samples, s)
	return nil
}

// X returns the feature rows. Rows alias the dataset's storage.
func (d *Dataset) X() [][]float64 {
	out := make([][]float64, len(d.Samples))
	for i, s := range d.Samples {
		out[i] = s.Features
	}
	return out
}

// Y returns the labels.
func (d *Dataset) Y() []int {
	out := make([]int, len(d.Samples))
	for i, s := range d.Samples {
		out[i] = s.Label
	}
	return out
}

// ClassCounts returns how many samples carry each label.
func (d *Dataset) ClassCounts() map[int]int {
	counts := make(map[int]int, 2)
	for _, s := range d.Samples {
		counts[s.Label]++
	}
	return counts
}

// Subset returns a dataset with copies of the samples at idx, in idx order.
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{Schema: d.Schema, Samples: make([]LabeledSample, 0, len(idx))}
	for _, i := range idx {
		out.Samples = append(out.Samples, d.Samples[i].Clone())
	}
	return out
}

// Clone deep-copies the dataset.
func (d *Dataset) Clone() *Dataset {
	idx := make([]int, len(d.Samples))
	for i := range idx {
		idx[i] = i
	}
	return d.Subset(idx)
}

// Clone copies the sample's feature slice.
func (s LabeledSample) Clone() LabeledSample {
	f := make([]float64, len(s.Features))
	copy(f, s.Features)
	return LabeledSample{Features: f, Label: s.Label}
}
