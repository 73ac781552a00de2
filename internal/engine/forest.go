package engine

import (
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649015329

// IsolationForest is an unsupervised outlier model fitted per analysis run.
// Instances are not safe for concurrent Fit calls and are never shared
// between runs.
type IsolationForest struct {
	trees      int
	sampleSize int
	seed       int64

	roots []*isoNode
	psi   int
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
}

func (n *isoNode) leaf() bool { return n.left == nil && n.right == nil }

// NewIsolationForest creates a forest; the seed fixes every random choice so
// identical input yields identical scores.
func NewIsolationForest(trees, sampleSize int, seed int64) *IsolationForest {
	if trees <= 0 {
		trees = 100
	}
	if sampleSize <= 1 {
		sampleSize = 256
	}
	return &IsolationForest{trees: trees, sampleSize: sampleSize, seed: seed}
}

// Fit builds the trees over data. Rows must share one width.
func (f *IsolationForest) Fit(data [][]float64) {
	f.roots = nil
	f.psi = 0
	if len(data) == 0 {
		return
	}
	rng := rand.New(rand.NewSource(f.seed))
	psi := f.sampleSize
	if psi > len(data) {
		psi = len(data)
	}
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f.psi = psi
	f.roots = make([]*isoNode, 0, f.trees)
	for t := 0; t < f.trees; t++ {
		perm := rng.Perm(len(data))[:psi]
		rows := make([][]float64, psi)
		for i, idx := range perm {
			rows[i] = data[idx]
		}
		f.roots = append(f.roots, grow(rows, 0, limit, rng))
	}
}

// Score returns the anomaly score in (0,1]; values near 1 are isolated early.
// An unfitted forest scores everything 0.5.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.roots) == 0 {
		return 0.5
	}
	norm := averagePathLength(f.psi)
	if norm == 0 {
		return 0.5
	}
	total := 0.0
	for _, root := range f.roots {
		total += pathLength(root, x, 0)
	}
	mean := total / float64(len(f.roots))
	return math.Pow(2, -mean/norm)
}

func grow(rows [][]float64, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(rows) <= 1 {
		return &isoNode{size: len(rows)}
	}

	width := len(rows[0])
	candidates := make([]int, 0, width)
	lows := make([]float64, width)
	highs := make([]float64, width)
	for j := 0; j < width; j++ {
		lo, hi := rows[0][j], rows[0][j]
		for _, row := range rows[1:] {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		lows[j], highs[j] = lo, hi
		if hi > lo {
			candidates = append(candidates, j)
		}
	}
	// Constant rows cannot be separated further.
	if len(candidates) == 0 {
		return &isoNode{size: len(rows)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := lows[feature] + rng.Float64()*(highs[feature]-lows[feature])

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		size:    len(rows),
		left:    grow(left, depth+1, limit, rng),
		right:   grow(right, depth+1, limit, rng),
	}
}

func pathLength(node *isoNode, x []float64, depth int) float64 {
	for !node.leaf() {
		if x[node.feature] < node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.size)
}

// averagePathLength is c(n), the expected path length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
