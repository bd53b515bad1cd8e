package evaluate

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/montanaflynn/stats"

	"defect-predictor/internal/dataset"
	"defect-predictor/internal/ml"
)

// ImportanceFile holds the permutation importance of the served model.
const ImportanceFile = "feature_importance.json"

// FeatureImportance is the mean drop in F1 when one feature's column is
// shuffled across the evaluation set.
type FeatureImportance struct {
	Feature string  `json:"feature"`
	F1Drop  float64 `json:"f1_drop"`
	StdDev  float64 `json:"std_dev"`
}

// PermutationImportance scores every feature of ds against model, shuffling
// each column repeats times. Results are sorted by F1Drop, largest first.
// Drops can be negative when shuffling happens to help.
func PermutationImportance(model ml.Model, ds *dataset.Dataset, repeats int, seed int64) ([]FeatureImportance, error) {
	if ds.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	if repeats < 1 {
		repeats = 1
	}
	rng := rand.New(rand.NewSource(seed))
	X, y := ds.X(), ds.Y()

	baseline := F1(y, predictAll(model, X))

	permuted := make([][]float64, len(X))
	for i := range X {
		permuted[i] = append([]float64(nil), X[i]...)
	}

	out := make([]FeatureImportance, len(ds.Schema))
	for j, name := range ds.Schema {
		drops := make([]float64, repeats)
		for r := range drops {
			perm := rng.Perm(len(X))
			for i := range permuted {
				permuted[i][j] = X[perm[i]][j]
			}
			drops[r] = baseline - F1(y, predictAll(model, permuted))
		}
		for i := range permuted {
			permuted[i][j] = X[i][j]
		}

		mean, _ := stats.Mean(drops)
		std, _ := stats.StandardDeviationSample(drops)
		if repeats == 1 {
			std = 0
		}
		out[j] = FeatureImportance{Feature: name, F1Drop: mean, StdDev: std}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].F1Drop > out[b].F1Drop })
	return out, nil
}

func predictAll(model ml.Model, X [][]float64) []int {
	out := make([]int, len(X))
	for i, x := range X {
		out[i] = model.Predict(x)
	}
	return out
}

// WriteImportance writes importances as JSON to path.
func WriteImportance(path string, importances []FeatureImportance) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(importances, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feature importance: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write feature importance: %w", err)
	}
	return nil
}
