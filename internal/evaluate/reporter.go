package evaluate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// Report file names
const (
	ResultsFile = "results.json"
	SummaryFile = "evaluation_summary.txt"
)

// WriteReport writes reports, keyed by model name, as JSON to path.
func WriteReport(path string, reports map[string]Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	log.Info().Str("file", path).Int("models", len(reports)).Msg("Evaluation results written")
	return nil
}

// ReadReport loads a results file written by WriteReport.
func ReadReport(path string) (map[string]Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	var reports map[string]Report
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	return reports, nil
}

// WriteSummary writes a human-readable table of the reports to path.
func WriteSummary(path string, reports map[string]Report) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(file, "DEFECT PREDICTION EVALUATION\n")
	fmt.Fprintf(file, "============================\n\n")
	fmt.Fprintf(file, "%-22s %9s %9s %9s %9s   %s\n", "Model", "Accuracy", "Precision", "Recall", "F1", "[[TN FP] [FN TP]]")
	for _, name := range names {
		r := reports[name]
		cm := r.ConfusionMatrix
		fmt.Fprintf(file, "%-22s %9.4f %9.4f %9.4f %9.4f   [[%d %d] [%d %d]]\n",
			name, r.Accuracy, r.Precision, r.Recall, r.F1Score, cm.TN, cm.FP, cm.FN, cm.TP)
	}

	log.Info().Str("file", path).Msg("Summary report generated")
	return nil
}
