// Package artifact persists a trained model together with everything the
// scoring service needs to use and explain it.
package artifact

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"defect-predictor/internal/common"
	"defect-predictor/internal/evaluate"
	"defect-predictor/internal/features"
	"defect-predictor/internal/ml"
)

// MetadataFile is the sidecar written next to every artifact.
const MetadataFile = "model_metadata.json"

// Artifact is the unit handed from training to serving.
type Artifact struct {
	Version    string
	TrainedAt  time.Time
	SchemaName string
	Schema     features.Schema
	Model      ml.Model
	// Background is a sample of real training rows used to fit explainers.
	Background [][]float64
	Reports    map[string]evaluate.Report
	Importance []evaluate.FeatureImportance
	Params     map[string]ml.Params
}

// Metadata is the JSON-readable summary of an artifact.
type Metadata struct {
	Version      string                       `json:"version"`
	TrainedAt    time.Time                    `json:"trained_at"`
	SchemaName   string                       `json:"schema"`
	Features     []string                     `json:"features"`
	ModelType    string                       `json:"model_type"`
	Background   int                          `json:"background_rows"`
	Reports      map[string]evaluate.Report   `json:"reports,omitempty"`
	Importance   []evaluate.FeatureImportance `json:"feature_importance,omitempty"`
	Params       map[string]ml.Params         `json:"params,omitempty"`
	ArtifactPath string                       `json:"artifact_path"`
}

// Metadata summarises the artifact.
func (a *Artifact) Metadata(path string) Metadata {
	return Metadata{
		Version:      a.Version,
		TrainedAt:    a.TrainedAt,
		SchemaName:   a.SchemaName,
		Features:     a.Schema,
		ModelType:    fmt.Sprintf("%T", a.Model),
		Background:   len(a.Background),
		Reports:      a.Reports,
		Importance:   a.Importance,
		Params:       a.Params,
		ArtifactPath: path,
	}
}

// Validate checks the artifact is usable for serving.
func (a *Artifact) Validate() error {
	if a.Model == nil {
		return fmt.Errorf("artifact has no model")
	}
	if err := a.Schema.Validate(); err != nil {
		return err
	}
	if err := a.checkNamedSchema(); err != nil {
		return err
	}
	for i, row := range a.Background {
		if len(row) != len(a.Schema) {
			return fmt.Errorf("background row %d has %d features, schema has %d", i, len(row), len(a.Schema))
		}
	}
	return nil
}

// checkNamedSchema requires a known variant name to list exactly that variant's
// columns. Custom and unnamed schemas pass.
func (a *Artifact) checkNamedSchema() error {
	if a.SchemaName == "" {
		return nil
	}
	named, err := features.SchemaByName(a.SchemaName)
	if err != nil {
		return nil
	}
	if !named.Equal(a.Schema) {
		return fmt.Errorf("%w: artifact schema %q does not list the %s columns",
			common.ErrSchemaMismatch, a.SchemaName, a.SchemaName)
	}
	return nil
}

// Save gob-encodes the artifact to path and writes the metadata sidecar plus a
// timestamped copy of it into the same directory.
func (a *Artifact) Save(path string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(a); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to install artifact: %w", err)
	}

	md, err := json.MarshalIndent(a.Metadata(path), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), md, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	stamped := fmt.Sprintf("model_metadata_%s.json", a.TrainedAt.UTC().Format("20060102-150405"))
	if err := os.WriteFile(filepath.Join(dir, stamped), md, 0644); err != nil {
		return fmt.Errorf("failed to write metadata history: %w", err)
	}

	log.Info().
		Str("path", path).
		Str("version", a.Version).
		Str("schema", a.SchemaName).
		Int("background_rows", len(a.Background)).
		Msg("Model artifact saved")
	return nil
}

// Load reads an artifact written by Save.
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	var a Artifact
	if err := gob.NewDecoder(f).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact %s: %w", path, err)
	}
	return &a, nil
}

// LoadMetadata reads the sidecar next to modelPath, falling back to the newest
// timestamped copy.
func LoadMetadata(modelPath string) (*Metadata, error) {
	dir := filepath.Dir(modelPath)
	if md, err := decodeMetadata(filepath.Join(dir, MetadataFile)); err == nil {
		return md, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "model_metadata_*.json"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("no metadata files found in %s", dir)
	}
	sort.Strings(matches)
	return decodeMetadata(matches[len(matches)-1])
}

func decodeMetadata(path string) (*Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var md Metadata
	if err := json.NewDecoder(file).Decode(&md); err != nil {
		return nil, err
	}
	return &md, nil
}
