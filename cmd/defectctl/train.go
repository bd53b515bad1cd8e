package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"defect-predictor/internal/metrics"
	"defect-predictor/internal/storage"
	"defect-predictor/internal/training"
)

var trainFlags struct {
	files      []string
	datasetDir string
	target     string
	schema     string
	seed       int64
	iterations int
	folds      int
	outputDir  string
	noHistory  bool
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train and persist a stacked defect model",
	Long: "Loads labelled metric CSVs, balances the training split with SMOTE, tunes every model\n" +
		"family, fits the stacked ensemble and writes the model artifact plus evaluation results.",
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringSliceVar(&trainFlags.files, "file", nil, "Dataset CSV file (repeatable); overrides --dataset-dir")
	f.StringVar(&trainFlags.datasetDir, "dataset-dir", "", "Directory of dataset CSVs")
	f.StringVar(&trainFlags.target, "target", "", "Target column name")
	f.StringVar(&trainFlags.schema, "schema", "", "Feature schema: default or raw")
	f.Int64Var(&trainFlags.seed, "seed", 0, "Random seed")
	f.IntVar(&trainFlags.iterations, "iterations", 0, "Search rounds per model family")
	f.IntVar(&trainFlags.folds, "folds", -1, "Stacking folds; below 2 fits the meta model in-sample")
	f.StringVar(&trainFlags.outputDir, "output", "", "Output directory")
	f.BoolVar(&trainFlags.noHistory, "no-history", false, "Do not record the run in the run store")
}

func runTrain(cmd *cobra.Command, args []string) error {
	tc := training.ConfigFromSettings(settings)
	tc.Files = trainFlags.files
	if trainFlags.datasetDir != "" {
		tc.DatasetDir = trainFlags.datasetDir
	}
	if trainFlags.target != "" {
		tc.TargetColumn = trainFlags.target
	}
	if trainFlags.schema != "" {
		tc.SchemaName = trainFlags.schema
	}
	if cmd.Flags().Changed("seed") {
		tc.Seed = trainFlags.seed
	}
	if trainFlags.iterations > 0 {
		tc.SearchIterations = trainFlags.iterations
	}
	if trainFlags.folds >= 0 {
		tc.StackFolds = trainFlags.folds
	}
	if trainFlags.outputDir != "" {
		tc.OutputDir = trainFlags.outputDir
	}

	var store *storage.Store
	if !trainFlags.noHistory {
		if err := os.MkdirAll(settings.DataPath, 0755); err != nil {
			return fmt.Errorf("failed to create data path: %w", err)
		}
		s, err := storage.New(settings.DataPath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := training.New(tc, store)
	p.SetRecorder(metrics.NewWrapper(metrics.New()))

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", res.RunID)
	fmt.Fprintf(out, "Rows: %d total, %d train (%d after SMOTE), %d validation, %d test\n",
		res.DatasetRows, res.TrainRows, res.ResampledRows, res.ValRows, res.TestRows)
	fmt.Fprintf(out, "Artifact: %s\n\n", res.ArtifactPath)
	printReports(out, res.Reports)

	if len(res.Importance) > 0 {
		fmt.Fprintln(out, "\nPermutation importance (stacked model, test split):")
		for i, imp := range res.Importance {
			if i == 5 {
				break
			}
			fmt.Fprintf(out, "  %-24s F1 drop %.4f (+/- %.4f)\n", imp.Feature, imp.F1Drop, imp.StdDev)
		}
	}
	return nil
}
