package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Split shuffles with seed and cuts the dataset into train, validation and test
// sets. Fractions apply to the total; the test set takes the remainder.
func Split(ds *Dataset, trainFrac, valFrac float64, seed int64) (train, val, test *Dataset, err error) {
	if trainFrac <= 0 || valFrac < 0 || trainFrac+valFrac >= 1 {
		return nil, nil, nil, fmt.Errorf("invalid split fractions train=%.2f validation=%.2f", trainFrac, valFrac)
	}

	n := ds.Len()
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	nTrain := int(math.Round(float64(n) * trainFrac))
	nVal := int(math.Round(float64(n) * valFrac))
	if nTrain+nVal > n {
		nVal = n - nTrain
	}

	train = ds.Subset(perm[:nTrain])
	val = ds.Subset(perm[nTrain : nTrain+nVal])
	test = ds.Subset(perm[nTrain+nVal:])
	return train, val, test, nil
}

// Sample draws up to n rows without replacement. It returns every row, in a
// seeded order, when n <= 0 or n >= ds.Len().
func Sample(ds *Dataset, n int, seed int64) [][]float64 {
	perm := rand.New(rand.NewSource(seed)).Perm(ds.Len())
	if n > len(perm) || n <= 0 {
		n = len(perm)
	}
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = ds.Samples[perm[i]].Clone().Features
	}
	return out
}
