package ml

import (
	"math"
	"math/rand"
	"sort"
)

// Node is one node of a fitted tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// DecisionTree is a CART tree grown by minimising within-node squared error.
// On 0/1 targets that criterion orders splits exactly as Gini impurity does, and
// a leaf's value is the fraction of defective samples that reached it.
type DecisionTree struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures limits the features considered at each split. Zero means all.
	MaxFeatures int
	Seed        int64
	Nodes       []Node
}

// NewDecisionTree builds an unfitted tree from params. max_depth 0 means unlimited.
func NewDecisionTree(p Params) *DecisionTree {
	return &DecisionTree{
		MaxDepth:        p.Int("max_depth", 5),
		MinSamplesSplit: p.Int("min_samples_split", 2),
		MinSamplesLeaf:  p.Int("min_samples_leaf", 1),
		MaxFeatures:     p.Int("max_features", 0),
		Seed:            int64(p.Int("seed", 42)),
	}
}

// Fit grows the tree on X, y.
func (t *DecisionTree) Fit(X [][]float64, y []int) error {
	if _, err := checkTrainingSet(X, y); err != nil {
		return err
	}
	target := make([]float64, len(y))
	for i, v := range y {
		target[i] = float64(v)
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	t.grow(X, target, nil, 0, idx)
	return nil
}

// fitResidual grows the tree on real-valued targets. With hess set, leaves hold
// the Newton step sum(g)/(sum(h)+lambda) used by gradient boosting.
func (t *DecisionTree) fitResidual(X [][]float64, g, hess []float64, lambda float64, idx []int) {
	t.grow(X, g, hess, lambda, idx)
}

func (t *DecisionTree) grow(X [][]float64, target, hess []float64, lambda float64, idx []int) {
	b := &treeBuilder{
		X:           X,
		target:      target,
		hess:        hess,
		lambda:      lambda,
		maxDepth:    t.MaxDepth,
		minSplit:    max(t.MinSamplesSplit, 2),
		minLeaf:     max(t.MinSamplesLeaf, 1),
		maxFeatures: t.MaxFeatures,
		width:       len(X[0]),
		rng:         rand.New(rand.NewSource(t.Seed)),
	}
	b.build(idx, 0)
	t.Nodes = b.nodes
}

// PredictProba returns the defective fraction of the leaf x falls into.
func (t *DecisionTree) PredictProba(x []float64) float64 {
	return clamp01(t.eval(x))
}

// Predict returns 1 when PredictProba exceeds 0.5.
func (t *DecisionTree) Predict(x []float64) int {
	return label(t.PredictProba(x))
}

func (t *DecisionTree) eval(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the depth of the fitted tree; a lone leaf has depth 0.
func (t *DecisionTree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

type treeBuilder struct {
	X           [][]float64
	target      []float64
	hess        []float64
	lambda      float64
	maxDepth    int
	minSplit    int
	minLeaf     int
	maxFeatures int
	width       int
	rng         *rand.Rand
	nodes       []Node
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: b.leafValue(idx)})

	if (b.maxDepth > 0 && depth >= b.maxDepth) || len(idx) < b.minSplit || b.pure(idx) {
		return id
	}

	feat, thr, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.X[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id].Feature = feat
	b.nodes[id].Threshold = thr
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

func (b *treeBuilder) leafValue(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += b.target[i]
	}
	if b.hess == nil {
		return sum / float64(len(idx))
	}
	var h float64
	for _, i := range idx {
		h += b.hess[i]
	}
	return sum / (h + b.lambda)
}

func (b *treeBuilder) pure(idx []int) bool {
	first := b.target[idx[0]]
	for _, i := range idx[1:] {
		if b.target[i] != first {
			return false
		}
	}
	return true
}

func (b *treeBuilder) candidateFeatures() []int {
	if b.maxFeatures <= 0 || b.maxFeatures >= b.width {
		feats := make([]int, b.width)
		for i := range feats {
			feats[i] = i
		}
		return feats
	}
	return b.rng.Perm(b.width)[:b.maxFeatures]
}

// bestSplit scans every candidate feature for the threshold that minimises the
// summed squared error of the two children.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	n := len(idx)
	var total, totalSq float64
	for _, i := range idx {
		total += b.target[i]
		totalSq += b.target[i] * b.target[i]
	}
	parentSSE := totalSq - total*total/float64(n)

	bestFeat, bestThr, bestSSE := -1, 0.0, parentSSE
	sorted := make([]int, n)

	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		var lSum, lSq float64
		for k := 0; k < n-1; k++ {
			v := b.target[sorted[k]]
			lSum += v
			lSq += v * v

			nl := k + 1
			nr := n - nl
			cur, next := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if cur == next || nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			rSum := total - lSum
			rSq := totalSq - lSq
			sse := (lSq - lSum*lSum/float64(nl)) + (rSq - rSum*rSum/float64(nr))
			if sse < bestSSE-1e-12 {
				bestFeat, bestThr, bestSSE = f, cur+(next-cur)/2, sse
			}
		}
	}
	if bestFeat < 0 || math.IsNaN(bestThr) {
		return 0, 0, false
	}
	return bestFeat, bestThr, true
}
