package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"defect-predictor/internal/artifact"
	"defect-predictor/internal/client"
	"defect-predictor/internal/drift"
	"defect-predictor/internal/training"
)

var statusFlags struct {
	server  string
	timeout time.Duration
	model   string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health, loaded model and input drift of a running defectd",
	Long: `Show the health, loaded model and input drift of a running defectd.

With --model the server is not contacted; the metadata written next to the
artifact is printed instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.server, "server", "", "Server base URL (defaults to http://localhost:SERVER_PORT)")
	statusCmd.Flags().DurationVar(&statusFlags.timeout, "timeout", 10*time.Second, "Request timeout")
	statusCmd.Flags().StringVar(&statusFlags.model, "model", "", "Describe the artifact at this path offline")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusFlags.model != "" {
		md, err := artifact.LoadMetadata(statusFlags.model)
		if err != nil {
			return err
		}
		printMetadata(cmd.OutOrStdout(), md)
		return nil
	}

	base := statusFlags.server
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", settings.Port)
	}
	c := client.New(base, statusFlags.timeout)
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Server:  %s (%s)\n", base, health.Status)
	if !health.ModelLoaded {
		fmt.Fprintln(out, "Model:   not loaded")
		return nil
	}

	info, err := c.ModelInfo(ctx)
	if err != nil {
		return err
	}
	if md, ok := info["metadata"].(map[string]any); ok {
		fmt.Fprintf(out, "Model:   %v (schema %v, trained %v)\n", md["version"], md["schema"], md["trained_at"])
	}

	rep, err := c.Drift(ctx)
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message == drift.ErrNoBaseline.Error() {
		fmt.Fprintln(out, "Drift:   no training background in artifact")
		return nil
	}
	if err != nil {
		return err
	}
	printDrift(out, rep)
	return nil
}

func printMetadata(w io.Writer, md *artifact.Metadata) {
	fmt.Fprintf(w, "Model:      %s (%s)\n", md.Version, md.ModelType)
	fmt.Fprintf(w, "Trained:    %s\n", md.TrainedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Schema:     %s (%d features)\n", md.SchemaName, len(md.Features))
	fmt.Fprintf(w, "Background: %d rows\n", md.Background)
	if rep, ok := md.Reports[training.StackingReport]; ok {
		fmt.Fprintf(w, "Stack F1:   %.4f (accuracy %.4f)\n", rep.F1Score, rep.Accuracy)
	}

	// importance is stored largest drop first
	for i, f := range md.Importance {
		if i == 5 {
			break
		}
		fmt.Fprintf(w, "  %-24s %+.4f\n", f.Feature, f.F1Drop)
	}
}
