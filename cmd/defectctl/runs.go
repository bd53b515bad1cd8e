package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"defect-predictor/internal/storage"
	"defect-predictor/internal/training"
)

var runsFlags struct {
	limit int
	id    string
	since time.Duration
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded training runs",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsFlags.limit, "limit", "n", 20, "Maximum runs to list; 0 lists all")
	runsCmd.Flags().StringVar(&runsFlags.id, "id", "", "Show one run in full")
	runsCmd.Flags().DurationVar(&runsFlags.since, "since", 0, "Only list runs started within this window, oldest first (e.g. 72h)")
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := storage.New(settings.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if runsFlags.id != "" {
		run, err := store.GetRun(runsFlags.id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	var runs []storage.RunRecord
	if runsFlags.since > 0 {
		now := time.Now()
		runs, err = store.RunsBetween(now.Add(-runsFlags.since), now)
		if err == nil && runsFlags.limit > 0 && len(runs) > runsFlags.limit {
			runs = runs[len(runs)-runsFlags.limit:]
		}
	} else {
		runs, err = store.ListRuns(runsFlags.limit)
	}
	if err != nil {
		return err
	}
	return printRuns(out, runs)
}

func printRuns(w io.Writer, runs []storage.RunRecord) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no training runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSTATUS\tSCHEMA\tROWS\tSTACK F1")
	for _, r := range runs {
		f1 := "-"
		if rep, ok := r.Reports[training.StackingReport]; ok {
			f1 = fmt.Sprintf("%.4f", rep.F1Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond),
			r.Status, r.Schema, r.DatasetRows, f1)
	}
	return tw.Flush()
}
