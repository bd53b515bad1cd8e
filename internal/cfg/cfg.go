// Package cfg loads settings for the scoring service and the training CLI from
// an optional .env file, an optional YAML file named by CONFIG_FILE and the
// process environment. Environment variables always win over YAML values.
package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"defect-predictor/internal/common"
)

type Settings struct {
	// Service
	Port          int
	ModelPath     string
	DataPath      string
	CORSOrigins   []string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	LogLevel      string
	LogFormat     string
	ProbThreshold float64

	// Explanations
	ExplainTopK    int
	ExplainSamples int
	ExplainTimeout time.Duration
	BatchWorkers   int

	// Input drift
	DriftWindow    int
	DriftThreshold float64

	// Training
	DatasetDir       string
	TargetColumn     string
	Schema           string
	Seed             int64
	SearchIterations int
	SMOTENeighbors   int
	BalanceRatio     float64
	StackFolds       int
	BackgroundSize   int
	OutputDir        string
}

type ConfigFile struct {
	Server struct {
		Port          int      `yaml:"port"`
		ModelPath     string   `yaml:"modelPath"`
		DataPath      string   `yaml:"dataPath"`
		CORSOrigins   []string `yaml:"corsOrigins"`
		ReadTimeout   string   `yaml:"readTimeout"`
		WriteTimeout  string   `yaml:"writeTimeout"`
		ProbThreshold float64  `yaml:"probThreshold"`
	} `yaml:"server"`

	Explain struct {
		TopK         int    `yaml:"topK"`
		Samples      int    `yaml:"samples"`
		Timeout      string `yaml:"timeout"`
		BatchWorkers int    `yaml:"batchWorkers"`
	} `yaml:"explain"`

	Drift struct {
		Window    int     `yaml:"window"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"drift"`

	Training struct {
		DatasetDir       string  `yaml:"datasetDir"`
		TargetColumn     string  `yaml:"targetColumn"`
		Schema           string  `yaml:"schema"`
		Seed             int64   `yaml:"seed"`
		SearchIterations int     `yaml:"searchIterations"`
		SMOTENeighbors   int     `yaml:"smoteNeighbors"`
		BalanceRatio     float64 `yaml:"balanceRatio"`
		StackFolds       int     `yaml:"stackFolds"`
		BackgroundSize   int     `yaml:"backgroundSize"`
		OutputDir        string  `yaml:"outputDir"`
	} `yaml:"training"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads .env if present, then YAML when CONFIG_FILE is set, else the
// environment alone, and validates the result.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to read .env: %w", err)
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	readTimeout, err := parseDurationOrDefault(config.Server.ReadTimeout, common.DefaultReadTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("server.readTimeout: %w", err)
	}
	writeTimeout, err := parseDurationOrDefault(config.Server.WriteTimeout, common.DefaultWriteTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("server.writeTimeout: %w", err)
	}
	explainTimeout, err := parseDurationOrDefault(config.Explain.Timeout, common.DefaultExplainTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("explain.timeout: %w", err)
	}

	tr := config.Training
	settings := Settings{
		Port:          getIntFromEnvOrConfig(common.EnvServerPort, config.Server.Port, common.DefaultServerPort),
		ModelPath:     getStringFromEnvOrConfig(common.EnvModelPath, config.Server.ModelPath, common.DefaultModelPath),
		DataPath:      getStringFromEnvOrConfig(common.EnvDataPath, config.Server.DataPath, common.DefaultDataPath),
		CORSOrigins:   getListFromEnvOrConfig(common.EnvCORSOrigins, config.Server.CORSOrigins),
		ReadTimeout:   getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:  getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
		LogLevel:      getStringFromEnvOrConfig(common.EnvLogLevel, config.Logging.Level, "info"),
		LogFormat:     getStringFromEnvOrConfig(common.EnvLogFormat, config.Logging.Format, "json"),
		ProbThreshold: getFloatFromEnvOrConfig(common.EnvProbThreshold, config.Server.ProbThreshold, common.DefaultProbThreshold),

		ExplainTopK:    getIntFromEnvOrConfig(common.EnvExplainTopK, config.Explain.TopK, common.DefaultExplainTopK),
		ExplainSamples: getIntFromEnvOrConfig(common.EnvExplainSamples, config.Explain.Samples, common.DefaultExplainSamples),
		ExplainTimeout: getDurationOrDefault(common.EnvExplainTimeout, explainTimeout),
		BatchWorkers:   getIntFromEnvOrConfig(common.EnvBatchWorkers, config.Explain.BatchWorkers, common.DefaultBatchWorkers),
		DriftWindow:    getIntFromEnvOrConfig(common.EnvDriftWindow, config.Drift.Window, common.DefaultDriftWindow),
		DriftThreshold: getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Drift.Threshold, common.DefaultDriftThreshold),

		DatasetDir:       getStringFromEnvOrConfig(common.EnvDatasetDir, tr.DatasetDir, common.DefaultDatasetDir),
		TargetColumn:     getStringFromEnvOrConfig(common.EnvTargetColumn, tr.TargetColumn, common.DefaultTargetColumn),
		Schema:           getStringFromEnvOrConfig(common.EnvSchema, tr.Schema, common.DefaultSchema),
		Seed:             int64(getIntFromEnvOrConfig(common.EnvSeed, int(tr.Seed), common.DefaultSeed)),
		SearchIterations: getIntFromEnvOrConfig(common.EnvSearchIterations, tr.SearchIterations, common.DefaultSearchIterations),
		SMOTENeighbors:   getIntFromEnvOrConfig(common.EnvSMOTENeighbors, tr.SMOTENeighbors, common.DefaultSMOTENeighbors),
		BalanceRatio:     getFloatFromEnvOrConfig(common.EnvBalanceRatio, tr.BalanceRatio, common.DefaultBalanceRatio),
		StackFolds:       getIntFromEnvOrConfig(common.EnvStackFolds, tr.StackFolds, common.DefaultStackFolds),
		BackgroundSize:   getIntFromEnvOrConfig(common.EnvBackgroundSize, tr.BackgroundSize, common.DefaultBackgroundSize),
		OutputDir:        getStringFromEnvOrConfig(common.EnvOutputDir, tr.OutputDir, common.DefaultOutputDir),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Port:          getIntOrDefault(common.EnvServerPort, common.DefaultServerPort),
		ModelPath:     getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		DataPath:      getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		CORSOrigins:   splitOrDefault(os.Getenv(common.EnvCORSOrigins), nil),
		ReadTimeout:   getDurationOrDefault(common.EnvReadTimeout, common.DefaultReadTimeout),
		WriteTimeout:  getDurationOrDefault(common.EnvWriteTimeout, common.DefaultWriteTimeout),
		LogLevel:      getEnvOrDefault(common.EnvLogLevel, "info"),
		LogFormat:     getEnvOrDefault(common.EnvLogFormat, "json"),
		ProbThreshold: getFloatOrDefault(common.EnvProbThreshold, common.DefaultProbThreshold),

		ExplainTopK:    getIntOrDefault(common.EnvExplainTopK, common.DefaultExplainTopK),
		ExplainSamples: getIntOrDefault(common.EnvExplainSamples, common.DefaultExplainSamples),
		ExplainTimeout: getDurationOrDefault(common.EnvExplainTimeout, common.DefaultExplainTimeout),
		BatchWorkers:   getIntOrDefault(common.EnvBatchWorkers, common.DefaultBatchWorkers),
		DriftWindow:    getIntOrDefault(common.EnvDriftWindow, common.DefaultDriftWindow),
		DriftThreshold: getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),

		DatasetDir:       getEnvOrDefault(common.EnvDatasetDir, common.DefaultDatasetDir),
		TargetColumn:     getEnvOrDefault(common.EnvTargetColumn, common.DefaultTargetColumn),
		Schema:           getEnvOrDefault(common.EnvSchema, common.DefaultSchema),
		Seed:             int64(getIntOrDefault(common.EnvSeed, common.DefaultSeed)),
		SearchIterations: getIntOrDefault(common.EnvSearchIterations, common.DefaultSearchIterations),
		SMOTENeighbors:   getIntOrDefault(common.EnvSMOTENeighbors, common.DefaultSMOTENeighbors),
		BalanceRatio:     getFloatOrDefault(common.EnvBalanceRatio, common.DefaultBalanceRatio),
		StackFolds:       getIntOrDefault(common.EnvStackFolds, common.DefaultStackFolds),
		BackgroundSize:   getIntOrDefault(common.EnvBackgroundSize, common.DefaultBackgroundSize),
		OutputDir:        getEnvOrDefault(common.EnvOutputDir, common.DefaultOutputDir),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Addr returns the listen address for the HTTP server.
func (s *Settings) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDurationOrDefault(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

func getStringFromEnvOrConfig(key, configValue, def string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	if configValue != "" {
		return configValue
	}
	return def
}

func getListFromEnvOrConfig(key string, configValue []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, nil)
	}
	return configValue
}

func getIntFromEnvOrConfig(key string, configValue, def int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

func getFloatFromEnvOrConfig(key string, configValue, def float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}
