// Package evaluate scores a fitted model against a held-out set and writes the
// resulting metrics reports.
package evaluate

import (
	"encoding/json"
	"errors"
	"fmt"

	"defect-predictor/internal/dataset"
	"defect-predictor/internal/ml"
)

// ErrEmptyDataset is returned when there is nothing to evaluate on.
var ErrEmptyDataset = errors.New("evaluation set is empty")

// ConfusionMatrix counts outcomes with class 1 (defective) as positive.
type ConfusionMatrix struct {
	TP int
	FP int
	TN int
	FN int
}

// MarshalJSON writes the matrix as [[TN, FP], [FN, TP]], rows being the true
// class and columns the predicted class.
func (c ConfusionMatrix) MarshalJSON() ([]byte, error) {
	return json.Marshal([2][2]int{{c.TN, c.FP}, {c.FN, c.TP}})
}

func (c *ConfusionMatrix) UnmarshalJSON(data []byte) error {
	var m [2][2]int
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("confusion matrix: %w", err)
	}
	c.TN, c.FP, c.FN, c.TP = m[0][0], m[0][1], m[1][0], m[1][1]
	return nil
}

// Total returns the number of scored samples.
func (c ConfusionMatrix) Total() int {
	return c.TP + c.FP + c.TN + c.FN
}

// Report holds the standard binary classification metrics.
type Report struct {
	Accuracy        float64         `json:"accuracy"`
	Precision       float64         `json:"precision"`
	Recall          float64         `json:"recall"`
	F1Score         float64         `json:"f1_score"`
	ConfusionMatrix ConfusionMatrix `json:"confusion_matrix"`
}

// Evaluate predicts every sample of ds with model and summarises the outcome.
func Evaluate(model ml.Model, ds *dataset.Dataset) (Report, error) {
	if ds.Len() == 0 {
		return Report{}, ErrEmptyDataset
	}
	yPred := make([]int, ds.Len())
	for i, s := range ds.Samples {
		yPred[i] = model.Predict(s.Features)
	}
	return FromPredictions(ds.Y(), yPred)
}

// FromPredictions computes a report from aligned true and predicted labels.
func FromPredictions(yTrue, yPred []int) (Report, error) {
	if len(yTrue) == 0 {
		return Report{}, ErrEmptyDataset
	}
	if len(yTrue) != len(yPred) {
		return Report{}, fmt.Errorf("have %d labels but %d predictions", len(yTrue), len(yPred))
	}

	cm := Confusion(yTrue, yPred)
	r := Report{ConfusionMatrix: cm}
	r.Accuracy = float64(cm.TP+cm.TN) / float64(cm.Total())
	r.Precision = ratio(cm.TP, cm.TP+cm.FP)
	r.Recall = ratio(cm.TP, cm.TP+cm.FN)
	r.F1Score = f1(r.Precision, r.Recall)
	return r, nil
}

// Confusion tallies the confusion matrix.
func Confusion(yTrue, yPred []int) ConfusionMatrix {
	var cm ConfusionMatrix
	for i := range yTrue {
		switch {
		case yTrue[i] == 1 && yPred[i] == 1:
			cm.TP++
		case yTrue[i] == 0 && yPred[i] == 1:
			cm.FP++
		case yTrue[i] == 1:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm
}

// F1 returns the positive-class F1 score, 0 when it is undefined.
func F1(yTrue, yPred []int) float64 {
	cm := Confusion(yTrue, yPred)
	return f1(ratio(cm.TP, cm.TP+cm.FP), ratio(cm.TP, cm.TP+cm.FN))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func f1(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
