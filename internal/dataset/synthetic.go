package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"defect-predictor/internal/features"
)

// Synthesize generates n modules for schema. Every module has a latent size and
// complexity; metrics are noisy functions of those two, and the defect label is
// drawn from a logistic function of them with the intercept chosen so that
// roughly defectRate of modules are defective.
func Synthesize(schema features.Schema, n int, defectRate float64, seed int64) *Dataset {
	if defectRate <= 0 || defectRate >= 1 {
		defectRate = 0.15
	}
	rng := rand.New(rand.NewSource(seed))
	ds := New(schema.Clone())
	ds.Samples = make([]LabeledSample, n)

	// Logit of the base rate, widened for the spread of the latent term.
	bias := 1.7 * math.Log(defectRate/(1-defectRate))

	for i := range ds.Samples {
		size := rng.NormFloat64()
		complexity := 0.6*size + 0.8*rng.NormFloat64()

		vals := make([]float64, len(schema))
		for j, name := range schema {
			vals[j] = synthMetric(name, size, complexity, rng)
		}

		p := 1 / (1 + math.Exp(-(bias + 1.8*complexity + 0.6*size)))
		label := 0
		if rng.Float64() < p {
			label = 1
		}
		ds.Samples[i] = LabeledSample{Features: vals, Label: label}
	}
	return ds
}

func synthMetric(name string, size, complexity float64, rng *rand.Rand) float64 {
	noise := rng.NormFloat64()
	loc := math.Exp(4.5 + 0.9*size + 0.2*noise)
	cc := math.Max(1, math.Round(math.Exp(1.5+0.7*complexity+0.2*noise)))

	switch name {
	case "loc", "lOCode":
		return math.Round(loc)
	case "cyclomatic_complexity", "v(g)":
		return cc
	case "ev(g)":
		return math.Max(1, math.Round(cc*0.4+math.Abs(noise)))
	case "branchCount":
		return math.Max(1, 2*cc-1)
	case "coupling", "fan_out":
		return math.Max(0, math.Round(2+1.5*complexity+noise))
	case "fan_in":
		return math.Max(0, math.Round(3+0.5*size+noise))
	case "cohesion":
		return clamp01(0.6 - 0.15*complexity + 0.1*noise)
	case "inheritance_depth":
		return math.Max(1, math.Round(2+0.5*size+0.7*noise))
	case "halstead_volume":
		return math.Round(loc*(4+complexity+0.3*noise)*10) / 10
	case "defect_density":
		return math.Max(0, math.Round((0.02+0.01*complexity+0.005*noise)*1000)/1000)
	case "lOComment":
		return math.Max(0, math.Round(loc*0.15+5*noise))
	case "lOBlank":
		return math.Max(0, math.Round(loc*0.1+3*noise))
	case "locCodeAndComment":
		return math.Max(0, math.Round(loc*0.02+noise))
	case "uniq_Op":
		return math.Max(1, math.Round(8+2*complexity+noise))
	case "uniq_Opnd":
		return math.Max(1, math.Round(loc*0.2+2*noise))
	case "total_Op":
		return math.Max(1, math.Round(loc*1.3+5*noise))
	case "total_Opnd":
		return math.Max(1, math.Round(loc*0.9+5*noise))
	default:
		return math.Round(math.Exp(size+0.5*noise)*100) / 100
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// WriteCSV writes ds with a header of schema names followed by target.
func WriteCSV(path string, ds *Dataset, target string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append(ds.Schema.Clone(), target)
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, s := range ds.Samples {
		for j, v := range s.Features {
			row[j] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		row[len(row)-1] = strconv.Itoa(s.Label)
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write dataset %s: %w", path, err)
	}

	counts := ds.ClassCounts()
	log.Info().
		Str("file", path).
		Int("rows", ds.Len()).
		Int("defective", counts[1]).
		Msg("Dataset written")
	return f.Close()
}
