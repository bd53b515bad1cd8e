package dataset

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defect-predictor/internal/common"
	"defect-predictor/internal/features"
)

var testSchema = features.Schema{"loc", "v(g)"}

func writeCSV(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "cm1.csv",
		"loc,v(g),extra,defects",
		"10,2,x,false",
		"250,31,y,true",
		"40,4,z,N",
		"90,12,w,Y",
	)

	ds, err := LoadCSV(path, testSchema, "defects")
	require.NoError(t, err)
	require.Equal(t, 4, ds.Len())
	assert.Equal(t, []float64{250, 31}, ds.Samples[1].Features)
	assert.Equal(t, []int{0, 1, 0, 1}, ds.Y())
	assert.Equal(t, map[int]int{0: 2, 1: 2}, ds.ClassCounts())
}

func TestLoadCSV_MissingColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "pc1.csv",
		"loc,defects",
		"10,0",
	)

	_, err := LoadCSV(path, testSchema, "defects")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "pc1.csv")
	assert.Contains(t, err.Error(), "v(g)")
}

func TestLoadCSV_ReportsEveryBadRow(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "kc1.csv",
		"loc,v(g),defects",
		"10,2,0",
		"abc,2,0",
		"10,,1",
		"10,3,maybe",
	)

	_, err := LoadCSV(path, testSchema, "defects")
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "line 3")
	assert.Contains(t, msg, "line 4")
	assert.Contains(t, msg, "line 5")
	assert.NotContains(t, msg, "line 2")
	assert.ErrorIs(t, err, common.ErrInvalidMetricValue)
}

func TestLoadCSV_RejectsNonFiniteCells(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "jm1.csv",
		"loc,v(g),defects",
		"10,2,0",
		"NaN,2,1",
		"10,Inf,0",
		"-inf,3,1",
		"12,+Inf,true",
	)

	_, err := LoadCSV(path, testSchema, "defects")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidMetricValue)
	msg := err.Error()
	for _, want := range []string{"jm1.csv line 3", "line 4", "line 5", "line 6", "column loc", "column v(g)"} {
		assert.Contains(t, msg, want)
	}
	assert.NotContains(t, msg, "line 2")
}

func TestLoadCSV_HeaderOnly(t *testing.T) {
	dir := t.TempDir()

	ok := writeCSV(t, dir, "empty.csv", "loc,v(g),defects")
	ds, err := LoadCSV(ok, testSchema, "defects")
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())

	bad := writeCSV(t, dir, "short.csv", "loc,defects")
	_, err = LoadCSV(bad, testSchema, "defects")
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "v(g)")

	blank := filepath.Join(dir, "blank.csv")
	require.NoError(t, os.WriteFile(blank, nil, 0o644))
	_, err = LoadCSV(blank, testSchema, "defects")
	assert.ErrorIs(t, err, common.ErrSchemaMismatch)
}

func TestLoadFiles_NoRows(t *testing.T) {
	dir := t.TempDir()
	a := writeCSV(t, dir, "a.csv", "loc,v(g),defects")
	b := writeCSV(t, dir, "b.csv", "loc,v(g),defects")

	_, err := LoadFiles([]string{a, b}, testSchema, "defects")
	assert.ErrorIs(t, err, common.ErrTrainingDataEmpty)

	_, err = LoadDir(dir, testSchema, "defects")
	assert.ErrorIs(t, err, common.ErrTrainingDataEmpty)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "b.csv", "loc,v(g),defects", "2,2,1")
	writeCSV(t, dir, "a.csv", "loc,v(g),defects", "1,1,0")
	writeCSV(t, dir, "notes.txt", "ignored")

	ds, err := LoadDir(dir, testSchema, "defects")
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, []float64{1, 1}, ds.Samples[0].Features)

	_, err = LoadDir(t.TempDir(), testSchema, "defects")
	assert.ErrorIs(t, err, common.ErrTrainingDataEmpty)
}

func TestParseLabel(t *testing.T) {
	testCases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"1", 1, false},
		{"0", 0, false},
		{"TRUE", 1, false},
		{"false", 0, false},
		{" Y ", 1, false},
		{"n", 0, false},
		{"yes", 1, false},
		{"2", 0, true},
		{"", 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLabel(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func makeDataset(n int) *Dataset {
	ds := New(testSchema)
	for i := 0; i < n; i++ {
		_ = ds.Append(LabeledSample{Features: []float64{float64(i), float64(i % 7)}, Label: i % 2})
	}
	return ds
}

func TestSplit(t *testing.T) {
	ds := makeDataset(100)

	train, val, test, err := Split(ds, 0.70, 0.15, 42)
	require.NoError(t, err)
	assert.Equal(t, 70, train.Len())
	assert.Equal(t, 15, val.Len())
	assert.Equal(t, 15, test.Len())

	// partitions are disjoint and cover the input
	seen := map[float64]int{}
	for _, part := range []*Dataset{train, val, test} {
		for _, s := range part.Samples {
			seen[s.Features[0]]++
		}
	}
	assert.Len(t, seen, 100)
	for k, c := range seen {
		assert.Equal(t, 1, c, "row %v", k)
	}

	// same seed, same split
	train2, _, _, err := Split(ds, 0.70, 0.15, 42)
	require.NoError(t, err)
	assert.Equal(t, train.Samples, train2.Samples)

	_, _, _, err = Split(ds, 0.9, 0.2, 42)
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	ds := makeDataset(20)

	bg := Sample(ds, 5, 1)
	assert.Len(t, bg, 5)

	all := Sample(ds, 500, 1)
	assert.Len(t, all, 20)

	// returned rows are copies
	bg[0][0] = -1
	for _, s := range ds.Samples {
		assert.NotEqual(t, -1.0, s.Features[0])
	}
}

func TestAppend_RejectsWrongWidth(t *testing.T) {
	ds := New(testSchema)
	assert.Error(t, ds.Append(LabeledSample{Features: []float64{1}, Label: 0}))
	assert.Error(t, ds.Append(LabeledSample{Features: []float64{1, 2}, Label: 3}))
	assert.NoError(t, ds.Append(LabeledSample{Features: []float64{1, 2}, Label: 1}))
}

func TestSynthesize(t *testing.T) {
	for _, schema := range []features.Schema{features.DefaultSchema, features.RawSchema} {
		ds := Synthesize(schema, 2000, 0.2, 7)
		require.Equal(t, 2000, ds.Len())
		for _, s := range ds.Samples {
			require.Len(t, s.Features, len(schema))
		}

		rate := float64(ds.ClassCounts()[1]) / float64(ds.Len())
		assert.Greater(t, rate, 0.08, "defect rate")
		assert.Less(t, rate, 0.35, "defect rate")

		// Same seed, same data.
		assert.Equal(t, ds.Samples, Synthesize(schema, 2000, 0.2, 7).Samples)
	}
}

func TestSynthesize_ComplexityCarriesSignal(t *testing.T) {
	ds := Synthesize(features.DefaultSchema, 3000, 0.2, 11)
	cc := slices.Index(features.DefaultSchema, "cyclomatic_complexity")

	var sum [2]float64
	var n [2]int
	for _, s := range ds.Samples {
		sum[s.Label] += s.Features[cc]
		n[s.Label]++
	}
	assert.Greater(t, sum[1]/float64(n[1]), 1.5*sum[0]/float64(n[0]))
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	ds := Synthesize(features.RawSchema, 50, 0.3, 1)
	path := filepath.Join(t.TempDir(), "out", "synthetic.csv")
	require.NoError(t, WriteCSV(path, ds, "defects"))

	loaded, err := LoadCSV(path, features.RawSchema, "defects")
	require.NoError(t, err)
	assert.Equal(t, ds.Samples, loaded.Samples)
}
