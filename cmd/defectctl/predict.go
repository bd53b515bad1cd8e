package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"defect-predictor/internal/client"
)

var predictFlags struct {
	server   string
	moduleID string
	metrics  []string
	batch    string
	timeout  time.Duration
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score modules against a running defectd",
	Example: "  defectctl predict --module m1 --metric loc=120 --metric cyclomatic_complexity=15\n" +
		"  defectctl predict --batch modules.json",
	RunE: runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictFlags.server, "server", "", "Server base URL (defaults to http://localhost:SERVER_PORT)")
	f.StringVar(&predictFlags.moduleID, "module", "", "Module id")
	f.StringArrayVar(&predictFlags.metrics, "metric", nil, "Metric as name=value (repeatable)")
	f.StringVar(&predictFlags.batch, "batch", "", `JSON file of [{"moduleId": ..., "features": {...}}, ...]`)
	f.DurationVar(&predictFlags.timeout, "timeout", 30*time.Second, "Request timeout")
}

func runPredict(cmd *cobra.Command, args []string) error {
	base := predictFlags.server
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", settings.Port)
	}
	c := client.New(base, predictFlags.timeout)
	ctx := cmd.Context()

	var result any
	if predictFlags.batch != "" {
		modules, err := readBatch(predictFlags.batch)
		if err != nil {
			return err
		}
		resp, err := c.PredictBatch(ctx, modules)
		if err != nil {
			return err
		}
		result = resp
	} else {
		features, err := parseMetrics(predictFlags.metrics)
		if err != nil {
			return err
		}
		resp, err := c.Predict(ctx, predictFlags.moduleID, features)
		if err != nil {
			return err
		}
		result = resp
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parseMetrics(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("metric %q is not name=value", p)
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			out[name] = f
		} else {
			// Sent as-is so the server reports the invalid value.
			out[name] = value
		}
	}
	return out, nil
}

func readBatch(path string) ([]client.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var raw []struct {
		ModuleID string         `json:"moduleId"`
		Features map[string]any `json:"features"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	modules := make([]client.Module, len(raw))
	for i, m := range raw {
		modules[i] = client.Module{ModuleID: m.ModuleID, Features: m.Features}
	}
	return modules, nil
}
