package training

import (
	"fmt"
	"path/filepath"

	"defect-predictor/internal/cfg"
	"defect-predictor/internal/common"
	"defect-predictor/internal/features"
	"defect-predictor/internal/ml"
)

// Output file names written into Config.OutputDir.
const (
	ArtifactFile = "model.gob"
	SearchFile   = "search_results.json"
)

// importanceRepeats is how often each column is shuffled for permutation
// importance.
const importanceRepeats = 5

// Ensemble layout used when a Config leaves it empty.
var (
	DefaultBaseFamilies = []string{ml.FamilyRandomForest, ml.FamilyGradientBoosting, ml.FamilyDecisionTree}
	DefaultMetaFamily   = ml.FamilyLogisticRegression
	DefaultStandalone   = []string{ml.FamilyMLP}
)

// Config describes one training run.
type Config struct {
	// Files lists dataset CSVs explicitly. When empty every *.csv in
	// DatasetDir is used.
	Files        []string
	DatasetDir   string
	TargetColumn string
	SchemaName   string

	Seed          int64
	TrainFraction float64
	ValFraction   float64

	SearchIterations int
	SMOTENeighbors   int
	BalanceRatio     float64
	StackFolds       int
	BackgroundSize   int

	// BaseFamilies are tuned and stacked; MetaFamily combines them with its
	// default parameters. Standalone families are tuned and reported only.
	BaseFamilies []string
	MetaFamily   string
	Standalone   []string
	// Spaces overrides a family's default search space.
	Spaces map[string]ml.Space

	OutputDir string
}

// ConfigFromSettings maps loaded settings onto a run configuration.
func ConfigFromSettings(s cfg.Settings) Config {
	return Config{
		DatasetDir:       s.DatasetDir,
		TargetColumn:     s.TargetColumn,
		SchemaName:       s.Schema,
		Seed:             s.Seed,
		SearchIterations: s.SearchIterations,
		SMOTENeighbors:   s.SMOTENeighbors,
		BalanceRatio:     s.BalanceRatio,
		StackFolds:       s.StackFolds,
		BackgroundSize:   s.BackgroundSize,
		OutputDir:        s.OutputDir,
	}
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.TargetColumn == "" {
		c.TargetColumn = common.DefaultTargetColumn
	}
	if c.SchemaName == "" {
		c.SchemaName = common.DefaultSchema
	}
	if c.TrainFraction == 0 {
		c.TrainFraction = common.DefaultTrainFraction
	}
	if c.ValFraction == 0 {
		c.ValFraction = common.DefaultValFraction
	}
	if c.SMOTENeighbors == 0 {
		c.SMOTENeighbors = common.DefaultSMOTENeighbors
	}
	if c.BalanceRatio == 0 {
		c.BalanceRatio = common.DefaultBalanceRatio
	}
	if c.BackgroundSize == 0 {
		c.BackgroundSize = common.DefaultBackgroundSize
	}
	if c.OutputDir == "" {
		c.OutputDir = common.DefaultOutputDir
	}
	if len(c.BaseFamilies) == 0 {
		c.BaseFamilies = DefaultBaseFamilies
	}
	if c.MetaFamily == "" {
		c.MetaFamily = DefaultMetaFamily
	}
	if c.Standalone == nil {
		c.Standalone = DefaultStandalone
	}
	return c
}

func (c Config) validate() error {
	if len(c.Files) == 0 && c.DatasetDir == "" {
		return fmt.Errorf("no dataset files or directory configured")
	}
	if _, err := features.SchemaByName(c.SchemaName); err != nil {
		return err
	}
	if c.SearchIterations <= 0 {
		return common.ErrEmptySearchBudget
	}
	for _, name := range append(append([]string{c.MetaFamily}, c.BaseFamilies...), c.Standalone...) {
		if _, err := ml.LookupFamily(name); err != nil {
			return err
		}
	}
	return nil
}

// ArtifactPath is where the run writes its model.
func (c Config) ArtifactPath() string {
	return filepath.Join(c.OutputDir, ArtifactFile)
}

// space returns the search space for family, honouring overrides.
func (c Config) space(fam ml.Family) ml.Space {
	if s, ok := c.Spaces[fam.Name]; ok {
		return s.Clone()
	}
	return fam.Space
}
