// Package resample balances the defective and clean classes of a training set
// by synthesizing minority samples.
package resample

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"

	"defect-predictor/internal/common"
	"defect-predictor/internal/dataset"
)

// SMOTE interpolates new minority samples between a minority sample and one of
// its K nearest minority neighbours.
type SMOTE struct {
	// K is the neighbourhood size. Zero means common.DefaultSMOTENeighbors.
	K int
	// Ratio is the target minority/majority ratio. Zero means 1.0.
	Ratio float64
	Seed  int64
}

// Resample returns a new dataset holding every original sample, in order,
// followed by the synthetic minority samples. The input is not modified.
// When the minority class already meets the target ratio the originals are
// returned unchanged.
func (s SMOTE) Resample(train *dataset.Dataset) (*dataset.Dataset, error) {
	k := s.K
	if k <= 0 {
		k = common.DefaultSMOTENeighbors
	}
	ratio := s.Ratio
	if ratio <= 0 {
		ratio = common.DefaultBalanceRatio
	}

	if train.Len() == 0 {
		return nil, common.ErrTrainingDataEmpty
	}
	counts := train.ClassCounts()
	if len(counts) < 2 {
		return nil, common.ErrLabelCardinality
	}

	minorityLabel, majorityLabel := 1, 0
	if counts[1] > counts[0] {
		minorityLabel, majorityLabel = 0, 1
	}

	var minority [][]float64
	for _, smp := range train.Samples {
		if smp.Label == minorityLabel {
			minority = append(minority, smp.Features)
		}
	}
	if len(minority) < k+1 {
		return nil, fmt.Errorf("%w: %d minority samples, need at least %d for k=%d",
			common.ErrInsufficientMinoritySamples, len(minority), k+1, k)
	}

	out := train.Clone()
	target := int(math.Round(ratio * float64(counts[majorityLabel])))
	needed := target - len(minority)
	if needed <= 0 {
		return out, nil
	}

	neighbours := nearestNeighbours(minority, k)
	rng := rand.New(rand.NewSource(s.Seed))
	width := len(train.Schema)

	for i := 0; i < needed; i++ {
		base := rng.Intn(len(minority))
		nn := minority[neighbours[base][rng.Intn(k)]]
		gap := rng.Float64()

		synth := make([]float64, width)
		for j := 0; j < width; j++ {
			synth[j] = minority[base][j] + gap*(nn[j]-minority[base][j])
		}
		out.Samples = append(out.Samples, dataset.LabeledSample{Features: synth, Label: minorityLabel})
	}

	log.Info().
		Int("minority_before", len(minority)).
		Int("minority_after", len(minority)+needed).
		Int("majority", counts[majorityLabel]).
		Int("k", k).
		Msg("Applied SMOTE")

	return out, nil
}

// nearestNeighbours returns, for every row, the indices of its k nearest other
// rows by Euclidean distance. Ties break on lower index.
func nearestNeighbours(rows [][]float64, k int) [][]int {
	out := make([][]int, len(rows))
	type cand struct {
		idx  int
		dist float64
	}
	cands := make([]cand, 0, len(rows)-1)
	for i := range rows {
		cands = cands[:0]
		for j := range rows {
			if i == j {
				continue
			}
			cands = append(cands, cand{idx: j, dist: sqDist(rows[i], rows[j])})
		}
		sort.SliceStable(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })
		nn := make([]int, k)
		for n := 0; n < k; n++ {
			nn[n] = cands[n].idx
		}
		out[i] = nn
	}
	return out
}

func sqDist(a, b []float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}
