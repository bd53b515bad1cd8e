package dataset

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"defect-predictor/internal/common"
	"defect-predictor/internal/features"
)

// LoadCSV reads one metrics file. The header must name every schema column and
// the target column. Rows with an empty or non-numeric cell or an unparseable
// label are collected and returned together, so a single run reports every bad
// row in the file.
func LoadCSV(path string, schema features.Schema, target string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer f.Close()

	header, err := gocsv.DefaultCSVReader(f).Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if err := checkColumns(path, header, append(schema.Clone(), target)); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind dataset %s: %w", path, err)
	}

	rows, err := gocsv.CSVToMaps(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}

	ds := New(schema)
	if len(rows) == 0 {
		log.Warn().Str("file", path).Msg("Dataset file has no rows")
		return ds, nil
	}

	var rowErrs *multierror.Error
	for i, row := range rows {
		// header is line 1
		line := i + 2
		sample, err := parseRow(row, schema, target)
		if err != nil {
			rowErrs = multierror.Append(rowErrs, fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err))
			continue
		}
		ds.Samples = append(ds.Samples, sample)
	}
	if err := rowErrs.ErrorOrNil(); err != nil {
		return nil, err
	}

	counts := ds.ClassCounts()
	log.Info().
		Str("file", path).
		Int("rows", ds.Len()).
		Int("defective", counts[1]).
		Int("clean", counts[0]).
		Msg("Loaded dataset file")

	return ds, nil
}

// LoadFiles loads every path and concatenates the results in argument order.
// It fails with ErrTrainingDataEmpty when the files hold no rows between them.
func LoadFiles(paths []string, schema features.Schema, target string) (*Dataset, error) {
	all := New(schema)
	for _, p := range paths {
		ds, err := LoadCSV(p, schema, target)
		if err != nil {
			return nil, err
		}
		all.Samples = append(all.Samples, ds.Samples...)
	}
	if all.Len() == 0 {
		return nil, fmt.Errorf("%w: no rows in %s", common.ErrTrainingDataEmpty, strings.Join(paths, ", "))
	}
	return all, nil
}

// LoadDir loads every *.csv file in dir in lexical order.
func LoadDir(dir string, schema features.Schema, target string) (*Dataset, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no csv files in %s", common.ErrTrainingDataEmpty, dir)
	}
	sort.Strings(paths)
	return LoadFiles(paths, schema, target)
}

func checkColumns(path string, header, required []string) error {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}
	var missing []string
	for _, col := range required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing columns %s",
			common.ErrSchemaMismatch, filepath.Base(path), strings.Join(missing, ", "))
	}
	return nil
}

func parseRow(row map[string]string, schema features.Schema, target string) (LabeledSample, error) {
	vals := make([]float64, len(schema))
	for j, col := range schema {
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			return LabeledSample{}, fmt.Errorf("%w: column %s is empty", common.ErrInvalidMetricValue, col)
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return LabeledSample{}, fmt.Errorf("%w: column %s: %q", common.ErrInvalidMetricValue, col, cell)
		}
		vals[j] = v
	}
	label, err := ParseLabel(row[target])
	if err != nil {
		return LabeledSample{}, fmt.Errorf("column %s: %w", target, err)
	}
	return LabeledSample{Features: vals, Label: label}, nil
}

// ParseLabel accepts the label spellings found in public defect datasets.
func ParseLabel(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "1.0", "true", "yes", "y", "t":
		return 1, nil
	case "0", "0.0", "false", "no", "n", "f":
		return 0, nil
	default:
		return 0, fmt.Errorf("unrecognised label %q", s)
	}
}
