/**
 * @description
 * Linear trend analysis: degree-1 least squares fit over index vs price.
 *
 * @dependencies
 * - gonum.org/v1/gonum/stat
 */

package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// analyzeTrend fits a line over index -> price and derives direction,
// strength and confidence from the fit.
func analyzeTrend(prices []float64) (Trend, error) {
	if len(prices) < 2 {
		return Trend{}, errf("need at least 2 points for trend, have %d", len(prices))
	}

	xs := make([]float64, len(prices))
	for i := range xs {
		xs[i] = float64(i)
	}

	_, slope := stat.LinearRegression(xs, prices, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return Trend{}, errf("degenerate regression slope")
	}

	mean := stat.Mean(prices, nil)
	if mean == 0 {
		return Trend{}, errf("zero mean price series")
	}
	sd := stat.StdDev(prices, nil)

	return Trend{
		Direction:  Classify(prices),
		Slope:      slope,
		Strength:   math.Min(1, math.Abs(slope)/math.Abs(mean)),
		Confidence: clamp01(1 - sd/math.Abs(mean)),
	}, nil
}
