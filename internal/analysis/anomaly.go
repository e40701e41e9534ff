/**
 * @description
 * Outlier detection over 1-D price values using an isolation forest.
 * Points that isolate in unusually short paths score high; a point is
 * flagged when its score lands in the top decile for the series
 * (contamination ~0.1).
 *
 * @dependencies
 * - gonum.org/v1/gonum/stat
 * - standard "math/rand"
 */

package analysis

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	forestTrees     = 100
	forestSubsample = 256
	forestSeed      = 1 // fixed seed keeps scoring reproducible across runs
)

// detectAnomalies scores every point and returns those in the top decile.
func detectAnomalies(prices []float64) ([]Anomaly, error) {
	if len(prices) < 8 {
		return nil, errf("need at least 8 points for anomaly detection, have %d", len(prices))
	}

	scores := isolationScores(prices, rand.New(rand.NewSource(forestSeed)))

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	threshold := stat.Quantile(0.9, stat.Empirical, sorted, nil)

	var anomalies []Anomaly
	for i, s := range scores {
		// Strict comparison: a flat series where every score equals the
		// threshold flags nothing.
		if s > threshold {
			anomalies = append(anomalies, Anomaly{Index: i, Price: prices[i], Score: s})
		}
	}
	return anomalies, nil
}

// isolationScores returns one anomaly score per point; higher means more
// anomalous, following the standard 2^(-E[h]/c(n)) formulation.
func isolationScores(values []float64, rnd *rand.Rand) []float64 {
	sample := len(values)
	if sample > forestSubsample {
		sample = forestSubsample
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample))))

	trees := make([]*isoNode, forestTrees)
	for t := range trees {
		sub := subsample(values, sample, rnd)
		trees[t] = buildIsoTree(sub, 0, maxDepth, rnd)
	}

	norm := avgPathLength(sample)
	scores := make([]float64, len(values))
	for i, v := range values {
		var total float64
		for _, tree := range trees {
			total += pathLength(tree, v, 0)
		}
		mean := total / float64(len(trees))
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

type isoNode struct {
	split       float64
	left, right *isoNode
	size        int // populated on leaves only
}

func buildIsoTree(values []float64, depth, maxDepth int, rnd *rand.Rand) *isoNode {
	lo, hi := minMax(values)
	if depth >= maxDepth || len(values) <= 1 || lo == hi {
		return &isoNode{size: len(values)}
	}

	split := lo + rnd.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range values {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(values)}
	}

	return &isoNode{
		split: split,
		left:  buildIsoTree(left, depth+1, maxDepth, rnd),
		right: buildIsoTree(right, depth+1, maxDepth, rnd),
	}
}

func pathLength(node *isoNode, v float64, depth int) float64 {
	if node.left == nil && node.right == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if v < node.split {
		return pathLength(node.left, v, depth+1)
	}
	return pathLength(node.right, v, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	const euler = 0.5772156649015329
	h := math.Log(float64(n-1)) + euler
	return 2*h - 2*float64(n-1)/float64(n)
}

func subsample(values []float64, size int, rnd *rand.Rand) []float64 {
	if size >= len(values) {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	idx := rnd.Perm(len(values))[:size]
	out := make([]float64, size)
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
