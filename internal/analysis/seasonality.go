/**
 * @description
 * Additive seasonal decomposition with a fixed weekly period.
 * Classic moving-average decomposition: centered MA trend, per-position
 * seasonal means on the detrended series, residual as the remainder.
 *
 * @dependencies
 * - gonum.org/v1/gonum/stat
 */

package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const weeklyPeriod = 7

// analyzeSeasonality decomposes the series and scores the weekly component.
func analyzeSeasonality(prices []float64, period int) (Seasonality, error) {
	seasonal, residual, err := decompose(prices, period)
	if err != nil {
		return Seasonality{}, err
	}

	sdSeasonal := stat.StdDev(seasonal, nil)
	sdResidual := stat.StdDev(residual, nil)
	sdPrice := stat.StdDev(prices, nil)

	if sdResidual == 0 || sdPrice == 0 {
		return Seasonality{}, errf("degenerate series: zero residual or price variance")
	}

	return Seasonality{
		Period:     period,
		Strength:   math.Min(1, sdSeasonal/sdResidual),
		Confidence: clamp01(1 - sdResidual/sdPrice),
	}, nil
}

// decompose splits the series into seasonal and residual components over the
// range where the centered moving average is defined. Requires at least two
// full periods of data.
func decompose(prices []float64, period int) (seasonal, residual []float64, err error) {
	n := len(prices)
	if period < 2 {
		return nil, nil, errf("period must be >= 2, got %d", period)
	}
	if n < 2*period {
		return nil, nil, errf("need %d points for period-%d decomposition, have %d", 2*period, period, n)
	}

	half := period / 2

	// Centered moving average trend; undefined near the edges.
	trend := make([]float64, n)
	for i := half; i < n-half; i++ {
		var sum float64
		for j := i - half; j <= i+half; j++ {
			sum += prices[j]
		}
		trend[i] = sum / float64(2*half+1)
	}

	// Per-position seasonal means on the detrended valid range.
	sums := make([]float64, period)
	counts := make([]int, period)
	for i := half; i < n-half; i++ {
		pos := i % period
		sums[pos] += prices[i] - trend[i]
		counts[pos]++
	}

	indices := make([]float64, period)
	var indexMean float64
	for pos := range indices {
		if counts[pos] == 0 {
			return nil, nil, errf("empty seasonal bucket at position %d", pos)
		}
		indices[pos] = sums[pos] / float64(counts[pos])
		indexMean += indices[pos]
	}
	indexMean /= float64(period)

	// Center the indices so the seasonal component sums to ~0 over a period.
	for pos := range indices {
		indices[pos] -= indexMean
	}

	seasonal = make([]float64, 0, n-2*half)
	residual = make([]float64, 0, n-2*half)
	for i := half; i < n-half; i++ {
		s := indices[i%period]
		seasonal = append(seasonal, s)
		residual = append(residual, prices[i]-trend[i]-s)
	}

	return seasonal, residual, nil
}
