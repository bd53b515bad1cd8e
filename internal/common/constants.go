package common

import "time"

// Prediction labels as they appear on the wire.
const (
	LabelDefective    = "Defective"
	LabelNonDefective = "Non-Defective"
)

// UnknownModuleID names requests that carry no module id.
const UnknownModuleID = "unknown"

// Schema variants
const (
	SchemaDefault = "default"
	SchemaRaw     = "raw"
)

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvServerPort       = "SERVER_PORT"
	EnvModelPath        = "MODEL_PATH"
	EnvDataPath         = "DATA_PATH"
	EnvCORSOrigins      = "CORS_ORIGINS"
	EnvExplainTopK      = "EXPLAIN_TOP_K"
	EnvExplainSamples   = "EXPLAIN_SAMPLES"
	EnvExplainTimeout   = "EXPLAIN_TIMEOUT"
	EnvBatchWorkers     = "BATCH_WORKERS"
	EnvDriftWindow      = "DRIFT_WINDOW"
	EnvDriftThreshold   = "DRIFT_THRESHOLD"
	EnvProbThreshold    = "PROB_THRESHOLD"
	EnvReadTimeout      = "READ_TIMEOUT"
	EnvWriteTimeout     = "WRITE_TIMEOUT"
	EnvDatasetDir       = "DATASET_DIR"
	EnvTargetColumn     = "TARGET_COLUMN"
	EnvSchema           = "SCHEMA"
	EnvSeed             = "SEED"
	EnvSearchIterations = "SEARCH_ITERATIONS"
	EnvSMOTENeighbors   = "SMOTE_NEIGHBORS"
	EnvBalanceRatio     = "BALANCE_RATIO"
	EnvStackFolds       = "STACK_FOLDS"
	EnvBackgroundSize   = "BACKGROUND_SIZE"
	EnvOutputDir        = "OUTPUT_DIR"
)

// Configuration defaults
const (
	DefaultServerPort       = 5000
	DefaultModelPath        = "models/model.gob"
	DefaultDataPath         = "data"
	DefaultExplainTopK      = 5
	DefaultExplainSamples   = 5000
	DefaultExplainTimeout   = 2 * time.Second
	DefaultBatchWorkers     = 4
	DefaultDriftWindow      = 500
	DefaultDriftThreshold   = 0.3
	DefaultProbThreshold    = 0.5
	DefaultReadTimeout      = 10 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultDatasetDir       = "dataset"
	DefaultTargetColumn     = "defects"
	DefaultSchema           = SchemaDefault
	DefaultSeed             = 42
	DefaultSearchIterations = 5
	DefaultSMOTENeighbors   = 5
	DefaultBalanceRatio     = 1.0
	DefaultStackFolds       = 5
	DefaultBackgroundSize   = 100
	DefaultOutputDir        = "models"
	DefaultTrainFraction    = 0.70
	DefaultValFraction      = 0.15
)

// Validation limits
const (
	MinServerPort      = 1024
	MaxServerPort      = 65535
	MaxExplainTopK     = 64
	MinExplainSamples  = 50
	MaxExplainSamples  = 50000
	MaxBatchWorkers    = 256
	MaxSearchIteration = 10000
	MaxStackFolds      = 20
)

// Wire error messages
const (
	ErrMsgModelNotLoaded = "Model not loaded"
)
