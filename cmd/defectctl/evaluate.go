package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"defect-predictor/internal/artifact"
	"defect-predictor/internal/dataset"
	"defect-predictor/internal/drift"
	"defect-predictor/internal/evaluate"
)

var evaluateFlags struct {
	model  string
	files  []string
	dir    string
	target string
	output string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a saved model against labelled CSVs",
	RunE:  runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evaluateFlags.model, "model", "", "Model artifact path (defaults to MODEL_PATH)")
	f.StringSliceVar(&evaluateFlags.files, "file", nil, "Dataset CSV file (repeatable)")
	f.StringVar(&evaluateFlags.dir, "dataset-dir", "", "Directory of dataset CSVs")
	f.StringVar(&evaluateFlags.target, "target", "", "Target column name")
	f.StringVar(&evaluateFlags.output, "output", "", "Directory to write results.json and the summary into")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	modelPath := evaluateFlags.model
	if modelPath == "" {
		modelPath = settings.ModelPath
	}
	target := evaluateFlags.target
	if target == "" {
		target = settings.TargetColumn
	}

	a, err := artifact.Load(modelPath)
	if err != nil {
		return err
	}

	var ds *dataset.Dataset
	switch {
	case len(evaluateFlags.files) > 0:
		ds, err = dataset.LoadFiles(evaluateFlags.files, a.Schema, target)
	case evaluateFlags.dir != "":
		ds, err = dataset.LoadDir(evaluateFlags.dir, a.Schema, target)
	default:
		ds, err = dataset.LoadDir(settings.DatasetDir, a.Schema, target)
	}
	if err != nil {
		return err
	}

	rep, err := evaluate.Evaluate(a.Model, ds)
	if err != nil {
		return err
	}
	reports := map[string]evaluate.Report{filepath.Base(modelPath): rep}

	printReports(cmd.OutOrStdout(), reports)

	if evaluateFlags.output != "" {
		if err := evaluate.WriteReport(filepath.Join(evaluateFlags.output, evaluate.ResultsFile), reports); err != nil {
			return err
		}
		return evaluate.WriteSummary(filepath.Join(evaluateFlags.output, evaluate.SummaryFile), reports)
	}
	return nil
}

func printReports(w io.Writer, reports map[string]evaluate.Report) {
	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%-22s %9s %9s %9s %9s   %s\n", "MODEL", "ACCURACY", "PRECISION", "RECALL", "F1", "TN/FP/FN/TP")
	for _, name := range names {
		r := reports[name]
		cm := r.ConfusionMatrix
		fmt.Fprintf(w, "%-22s %9.4f %9.4f %9.4f %9.4f   %d/%d/%d/%d\n",
			name, r.Accuracy, r.Precision, r.Recall, r.F1Score, cm.TN, cm.FP, cm.FN, cm.TP)
	}
}

func printDrift(w io.Writer, rep drift.Report) {
	if !rep.Ready {
		fmt.Fprintf(w, "Drift:   collecting (%d inputs observed)\n", rep.Samples)
		return
	}
	fmt.Fprintf(w, "Drift:   %d recent inputs vs %d training rows, KS threshold %.2f\n", rep.Samples, rep.Baseline, rep.Threshold)
	for _, f := range rep.Features {
		flag := ""
		if f.Drifted {
			flag = "  DRIFT " + f.Severity
		}
		fmt.Fprintf(w, "  %-24s ks=%.3f psi=%.3f mean %.2f -> %.2f%s\n",
			f.Feature, f.Scores[drift.KolmogorovSmirnov], f.Scores[drift.PopulationStabilityIndex],
			f.BaselineMean, f.Mean, flag)
	}
}
