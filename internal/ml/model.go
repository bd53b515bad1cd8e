// Package ml implements the defect classifiers, their hyperparameter spaces and
// the stacked ensemble trained over them.
//
// Every fitted model is a read-only value: Predict and PredictProba never
// mutate it, so a single model can serve concurrent requests without locking.
package ml

import (
	"encoding/gob"
	"fmt"
	"math"
	"sort"
	"strings"

	"defect-predictor/internal/common"
)

// Model is a fitted binary classifier. Label 1 means defective.
type Model interface {
	// Predict returns the hard 0/1 label for x.
	Predict(x []float64) int
	// PredictProba returns the probability that x belongs to class 1.
	PredictProba(x []float64) float64
}

// Classifier is a Model that can be fitted.
type Classifier interface {
	Model
	Fit(X [][]float64, y []int) error
}

// Model families
const (
	FamilyDecisionTree       = "decision_tree"
	FamilyRandomForest       = "random_forest"
	FamilyGradientBoosting   = "gradient_boosting"
	FamilyLogisticRegression = "logistic_regression"
	FamilyMLP                = "mlp"
)

func init() {
	gob.Register(&DecisionTree{})
	gob.Register(&RandomForest{})
	gob.Register(&GradientBoosting{})
	gob.Register(&LogisticRegression{})
	gob.Register(&MLP{})
	gob.Register(&Stack{})
}

// ModelSpec names a family and the parameters to build it with.
type ModelSpec struct {
	Family string `json:"family" yaml:"family"`
	Params Params `json:"params" yaml:"params"`
}

// Build constructs an unfitted classifier for the model spec.
func (s ModelSpec) Build() (Classifier, error) {
	fam, err := LookupFamily(s.Family)
	if err != nil {
		return nil, err
	}
	return fam.New(s.Params)
}

func (s ModelSpec) String() string {
	return s.Family + "(" + s.Params.String() + ")"
}

// Family describes one kind of learner: the parameters it needs, the default
// search space over them and a factory.
type Family struct {
	Name     string
	Required []string
	Space    Space
	New      func(Params) (Classifier, error)
}

var families = map[string]Family{
	FamilyDecisionTree: {
		Name:     FamilyDecisionTree,
		Required: []string{"max_depth"},
		Space: Space{
			"max_depth":         {3, 5, 7, 10},
			"min_samples_split": {2, 5, 10},
			"min_samples_leaf":  {1, 2, 4},
		},
		New: func(p Params) (Classifier, error) { return NewDecisionTree(p), nil },
	},
	FamilyRandomForest: {
		Name:     FamilyRandomForest,
		Required: []string{"n_estimators", "max_depth"},
		Space: Space{
			"n_estimators":     {50, 100, 200},
			"max_depth":        {5, 7, 10, 0},
			"min_samples_leaf": {1, 2, 4},
		},
		New: func(p Params) (Classifier, error) { return NewRandomForest(p), nil },
	},
	FamilyGradientBoosting: {
		Name:     FamilyGradientBoosting,
		Required: []string{"n_estimators", "max_depth", "learning_rate"},
		Space: Space{
			"n_estimators":  {50, 100, 200},
			"max_depth":     {3, 5, 7},
			"learning_rate": {0.01, 0.1, 0.3},
		},
		New: func(p Params) (Classifier, error) { return NewGradientBoosting(p), nil },
	},
	FamilyLogisticRegression: {
		Name:     FamilyLogisticRegression,
		Required: []string{"l2"},
		Space: Space{
			"l2":            {0.0001, 0.001, 0.01, 0.1},
			"learning_rate": {0.05, 0.1, 0.5},
			"max_iter":      {200, 500},
		},
		New: func(p Params) (Classifier, error) { return NewLogisticRegression(p), nil },
	},
	FamilyMLP: {
		Name:     FamilyMLP,
		Required: []string{"hidden_layer_sizes", "activation", "alpha"},
		Space: Space{
			"hidden_layer_sizes": {[]int{50}, []int{100}, []int{50, 50}},
			"activation":         {"relu", "tanh"},
			"alpha":              {0.0001, 0.001, 0.01},
		},
		New: func(p Params) (Classifier, error) {
			m, err := NewMLP(p)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
	},
}

// LookupFamily returns a family by name. The returned Space is a copy.
func LookupFamily(name string) (Family, error) {
	fam, ok := families[name]
	if !ok {
		return Family{}, fmt.Errorf("unknown model family %q (known: %s)", name, strings.Join(FamilyNames(), ", "))
	}
	fam.Space = fam.Space.Clone()
	fam.Required = append([]string(nil), fam.Required...)
	return fam, nil
}

// FamilyNames lists the registered families in sorted order.
func FamilyNames() []string {
	names := make([]string, 0, len(families))
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// checkTrainingSet validates X and y and returns the feature width.
func checkTrainingSet(X [][]float64, y []int) (int, error) {
	if len(X) == 0 {
		return 0, common.ErrTrainingDataEmpty
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("have %d rows but %d labels", len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return 0, fmt.Errorf("rows have no features")
	}
	var pos, neg int
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
		switch y[i] {
		case 1:
			pos++
		case 0:
			neg++
		default:
			return 0, fmt.Errorf("row %d has non-binary label %d", i, y[i])
		}
	}
	if pos == 0 || neg == 0 {
		return 0, common.ErrLabelCardinality
	}
	return width, nil
}

func label(p float64) int {
	if p > 0.5 {
		return 1
	}
	return 0
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func clamp01(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}
