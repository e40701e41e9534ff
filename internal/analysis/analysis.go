/**
 * @description
 * Statistical analysis of deal price series: linear trend, weekly
 * seasonality, outlier detection and volatility.
 *
 * Sub-analyses degrade to neutral defaults instead of failing the whole
 * request, but every degraded step is recorded as a Warning so callers can
 * tell "neutral because no signal" from "neutral because the computation
 * errored". Only the top-level minimum-history check is a hard failure.
 *
 * @dependencies
 * - gonum.org/v1/gonum/stat
 * - backend/internal/errs
 */

package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/dealwatch-project/backend/internal/errs"
	"gonum.org/v1/gonum/stat"
)

// DefaultMinPoints is the minimum history length before analysis runs.
const DefaultMinPoints = 30

// Point is a single observation in a price series.
type Point struct {
	Timestamp time.Time
	Price     float64
}

// Warning records a degraded analysis step.
type Warning struct {
	Step   string `json:"step"`
	Reason string `json:"reason"`
}

// Trend describes the linear trend of a series.
type Trend struct {
	Direction  string  `json:"direction"` // "increasing" | "decreasing" | "stable" | "unknown"
	Slope      float64 `json:"slope"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
}

// Seasonality describes the weekly seasonal component of a series.
type Seasonality struct {
	Period     int     `json:"period"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
}

// Anomaly is a single outlier observation.
type Anomaly struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
	Score float64 `json:"score"`
}

// Result bundles all sub-analyses of one series.
type Result struct {
	Trend       Trend     `json:"trend"`
	Seasonality Seasonality `json:"seasonality"`
	Anomalies   []Anomaly `json:"anomalies"`
	Volatility  float64   `json:"volatility"`
	Warnings    []Warning `json:"warnings,omitempty"`
}

// Analyzer runs the analysis suite over price series.
type Analyzer struct {
	MinPoints int
}

// NewAnalyzer returns an Analyzer with the given minimum history length.
// Non-positive values fall back to DefaultMinPoints.
func NewAnalyzer(minPoints int) *Analyzer {
	if minPoints <= 0 {
		minPoints = DefaultMinPoints
	}
	return &Analyzer{MinPoints: minPoints}
}

// Analyze runs trend, seasonality, anomaly and volatility analysis over the
// series. It fails fast with InsufficientDataError below MinPoints; every
// other internal failure degrades to a neutral default plus a Warning.
func (a *Analyzer) Analyze(series []Point) (*Result, error) {
	if len(series) < a.MinPoints {
		return nil, &errs.InsufficientDataError{Required: a.MinPoints, Available: len(series)}
	}

	// Concurrent writers give no global ordering; sort before any math.
	sorted := SortByTime(series)
	prices := Prices(sorted)

	res := &Result{}

	trend, err := analyzeTrend(prices)
	if err != nil {
		res.Trend = Trend{Direction: "unknown"}
		res.Warnings = append(res.Warnings, Warning{Step: "trend", Reason: err.Error()})
	} else {
		res.Trend = trend
	}

	season, err := analyzeSeasonality(prices, weeklyPeriod)
	if err != nil {
		res.Seasonality = Seasonality{Period: weeklyPeriod}
		res.Warnings = append(res.Warnings, Warning{Step: "seasonality", Reason: err.Error()})
	} else {
		res.Seasonality = season
	}

	anomalies, err := detectAnomalies(prices)
	if err != nil {
		res.Warnings = append(res.Warnings, Warning{Step: "anomalies", Reason: err.Error()})
	} else {
		res.Anomalies = anomalies
	}

	res.Volatility = ReturnsVolatility(prices)

	return res, nil
}

// SortByTime returns a copy of the series ordered by timestamp ascending.
func SortByTime(series []Point) []Point {
	out := make([]Point, len(series))
	copy(out, series)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Prices extracts the price column of a series.
func Prices(series []Point) []float64 {
	out := make([]float64, len(series))
	for i, p := range series {
		out[i] = p.Price
	}
	return out
}

// ReturnsVolatility is the standard deviation of period-over-period returns.
// It returns 0 with fewer than 2 points or when a zero price would divide.
func ReturnsVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			return 0
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// Classify buckets the end-to-end change of a series into
// "increasing"/"decreasing"/"stable" using a ±5% band.
func Classify(prices []float64) string {
	if len(prices) < 2 || prices[0] == 0 {
		return "stable"
	}
	change := (prices[len(prices)-1] - prices[0]) / prices[0]
	switch {
	case change > 0.05:
		return "increasing"
	case change < -0.05:
		return "decreasing"
	default:
		return "stable"
	}
}

// clamp01 pins v into [0,1]. Several confidence formulas can leave the range
// on degenerate inputs (zero-mean series, near-zero residuals); clamping at
// the boundary is a deliberate choice.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func errf(format string, v ...interface{}) error {
	return fmt.Errorf(format, v...)
}
