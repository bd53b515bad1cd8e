package cfg

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"defect-predictor/internal/common"
	"defect-predictor/internal/features"
)

// validateSettings range-checks every value
func validateSettings(settings *Settings) error {
	// Service
	if settings.Port < common.MinServerPort || settings.Port > common.MaxServerPort {
		return fmt.Errorf("server port must be between %d and %d, got %d", common.MinServerPort, common.MaxServerPort, settings.Port)
	}
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 5m, got %v", settings.WriteTimeout)
	}
	if settings.ProbThreshold <= 0 || settings.ProbThreshold >= 1 {
		return fmt.Errorf("probability threshold must be between 0 and 1 (exclusive), got %f", settings.ProbThreshold)
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}
	if settings.LogFormat != "json" && settings.LogFormat != "console" {
		return fmt.Errorf("log format must be json or console, got %q", settings.LogFormat)
	}

	// Explanations
	if settings.ExplainTopK < 1 || settings.ExplainTopK > common.MaxExplainTopK {
		return fmt.Errorf("explanation top-K must be between 1 and %d, got %d", common.MaxExplainTopK, settings.ExplainTopK)
	}
	if settings.ExplainSamples < common.MinExplainSamples || settings.ExplainSamples > common.MaxExplainSamples {
		return fmt.Errorf("explanation samples must be between %d and %d, got %d",
			common.MinExplainSamples, common.MaxExplainSamples, settings.ExplainSamples)
	}
	if settings.ExplainTimeout < 10*time.Millisecond || settings.ExplainTimeout > time.Minute {
		return fmt.Errorf("explanation timeout must be between 10ms and 1m, got %v", settings.ExplainTimeout)
	}
	if settings.BatchWorkers < 1 || settings.BatchWorkers > common.MaxBatchWorkers {
		return fmt.Errorf("batch workers must be between 1 and %d, got %d", common.MaxBatchWorkers, settings.BatchWorkers)
	}

	// Input drift
	if settings.DriftWindow < 10 || settings.DriftWindow > 100000 {
		return fmt.Errorf("drift window must be between 10 and 100000, got %d", settings.DriftWindow)
	}
	if settings.DriftThreshold <= 0 || settings.DriftThreshold >= 1 {
		return fmt.Errorf("drift threshold must be between 0 and 1 (exclusive), got %f", settings.DriftThreshold)
	}

	// Training
	if settings.TargetColumn == "" {
		return fmt.Errorf("target column cannot be empty")
	}
	if _, err := features.SchemaByName(settings.Schema); err != nil {
		return err
	}
	if settings.SearchIterations < 1 || settings.SearchIterations > common.MaxSearchIteration {
		return fmt.Errorf("search iterations must be between 1 and %d, got %d", common.MaxSearchIteration, settings.SearchIterations)
	}
	if settings.SMOTENeighbors < 1 || settings.SMOTENeighbors > 50 {
		return fmt.Errorf("SMOTE neighbours must be between 1 and 50, got %d", settings.SMOTENeighbors)
	}
	if settings.BalanceRatio <= 0 || settings.BalanceRatio > 1 {
		return fmt.Errorf("balance ratio must be in (0, 1], got %f", settings.BalanceRatio)
	}
	if settings.StackFolds < 0 || settings.StackFolds > common.MaxStackFolds {
		return fmt.Errorf("stacking folds must be between 0 and %d, got %d", common.MaxStackFolds, settings.StackFolds)
	}
	if settings.BackgroundSize < 1 || settings.BackgroundSize > 10000 {
		return fmt.Errorf("background size must be between 1 and 10000, got %d", settings.BackgroundSize)
	}
	if settings.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	return nil
}
