/**
 * @description
 * Additive time-series price forecaster. Fits trend plus Fourier seasonality
 * terms by least squares and projects day-level forecasts with a 95%
 * uncertainty interval derived from residual spread, widening with horizon.
 *
 * Model fitting runs under a hard deadline: a pathological series must not
 * stall a worker, so a timeout surfaces as a prediction error instead of
 * blocking.
 *
 * @dependencies
 * - gonum.org/v1/gonum/mat
 * - gonum.org/v1/gonum/stat
 * - backend/internal/analysis
 * - backend/internal/errs
 */

package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dealwatch-project/backend/internal/analysis"
	"github.com/dealwatch-project/backend/internal/errs"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// ModelName identifies the fitted model family in persisted predictions.
	ModelName = "additive_fourier"

	// MaxHorizonDays caps forecast length.
	MaxHorizonDays = 90

	weeklyOrder  = 3
	yearlyOrder  = 4
	yearlyPeriod = 365.25

	// zScore95 is the normal quantile for a 95% interval.
	zScore95 = 1.959963984540054
)

// Point is one forecast day. LowerBound <= Price <= UpperBound always holds.
type Point struct {
	Date       time.Time `json:"date"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
}

// Result is the output of one forecaster run.
type Result struct {
	Points         []Point                `json:"predictions"`
	Confidence     float64                `json:"confidence"`
	TrendDirection string                 `json:"trend_direction"` // "up" | "down"
	TrendStrength  float64                `json:"trend_strength"`
	FeaturesUsed   []string               `json:"features_used"`
	ModelParams    map[string]interface{} `json:"model_params"`
}

// Forecaster fits the additive model over price history.
type Forecaster struct {
	MinPoints  int
	FitTimeout time.Duration
}

// New returns a Forecaster. Non-positive minPoints falls back to the
// analysis default; non-positive timeout disables the deadline.
func New(minPoints int, fitTimeout time.Duration) *Forecaster {
	if minPoints <= 0 {
		minPoints = analysis.DefaultMinPoints
	}
	return &Forecaster{MinPoints: minPoints, FitTimeout: fitTimeout}
}

// Generate produces daysAhead daily forecast points from history.
// Insufficient history fails fast before any fitting is attempted; fitting
// failures, panics and timeouts surface as prediction errors. No automatic
// retry is performed.
func (f *Forecaster) Generate(ctx context.Context, history []analysis.Point, daysAhead int, confidenceThreshold float64) (*Result, error) {
	if daysAhead < 1 || daysAhead > MaxHorizonDays {
		return nil, &errs.ValidationError{Field: "prediction_days", Reason: fmt.Sprintf("must be between 1 and %d, got %d", MaxHorizonDays, daysAhead)}
	}
	if confidenceThreshold < 0 || confidenceThreshold > 1 {
		return nil, &errs.ValidationError{Field: "confidence_threshold", Reason: "must be between 0 and 1"}
	}
	if len(history) < f.MinPoints {
		return nil, &errs.InsufficientDataError{Required: f.MinPoints, Available: len(history)}
	}

	sorted := analysis.SortByTime(history)

	type outcome struct {
		res *Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &errs.ModelError{Model: ModelName, Reason: fmt.Sprintf("panic during fit: %v", r)}}
			}
		}()
		res, err := fit(sorted, daysAhead)
		ch <- outcome{res: res, err: err}
	}()

	var deadline <-chan time.Time
	if f.FitTimeout > 0 {
		timer := time.NewTimer(f.FitTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, &errs.PredictionError{Model: ModelName, Op: "fit", Err: ctx.Err()}
	case <-deadline:
		return nil, &errs.PredictionError{Model: ModelName, Op: "fit", Err: fmt.Errorf("timeout after %s", f.FitTimeout)}
	case out := <-ch:
		if out.err != nil {
			return nil, errs.Prediction(ModelName, "fit", out.err)
		}
		return out.res, nil
	}
}

// fit solves the least-squares problem and scores the forecast horizon.
func fit(history []analysis.Point, daysAhead int) (*Result, error) {
	n := len(history)
	start := history[0].Timestamp
	last := history[n-1].Timestamp

	// Yearly terms only make sense once the history spans at least two cycles.
	span := last.Sub(start)
	withYearly := span >= time.Duration(2*yearlyPeriod*24)*time.Hour

	ts := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range history {
		ts[i] = p.Timestamp.Sub(start).Hours() / 24
		ys[i] = p.Price
	}

	cols := designWidth(withYearly)
	x := mat.NewDense(n, cols, nil)
	for i, t := range ts {
		x.SetRow(i, designRow(t, withYearly))
	}
	y := mat.NewVecDense(n, ys)

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, &errs.ModelError{Model: ModelName, Reason: fmt.Sprintf("least squares solve: %v", err)}
	}

	// Residual spread drives the uncertainty interval.
	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	var sse float64
	for i := 0; i < n; i++ {
		r := ys[i] - fitted.AtVec(i)
		sse += r * r
	}
	dof := n - cols
	if dof < 1 {
		dof = 1
	}
	sigma := math.Sqrt(sse / float64(dof))

	// Trend component over history: intercept + slope*t.
	intercept, slope := beta.AtVec(0), beta.AtVec(1)
	trendVals := make([]float64, n)
	diffs := make([]float64, 0, n-1)
	for i, t := range ts {
		trendVals[i] = intercept + slope*t
		if i > 0 {
			diffs = append(diffs, trendVals[i]-trendVals[i-1])
		}
	}
	meanDiff := stat.Mean(diffs, nil)
	trendSD := stat.StdDev(trendVals, nil)

	direction := "down"
	if meanDiff > 0 {
		direction = "up"
	}
	strength := 0.0
	if trendSD > 0 {
		strength = math.Min(1, math.Abs(meanDiff)/trendSD)
	}

	lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	points := make([]Point, 0, daysAhead)
	var confSum float64
	for h := 1; h <= daysAhead; h++ {
		date := lastDay.AddDate(0, 0, h)
		t := ts[n-1] + float64(h)
		row := mat.NewVecDense(cols, designRow(t, withYearly))
		price := mat.Dot(row, &beta)

		halfWidth := zScore95 * sigma * math.Sqrt(1+float64(h)/float64(n))
		lower := price - halfWidth
		upper := price + halfWidth

		conf := 0.0
		if price > 0 {
			conf = clamp01(1 - (upper-lower)/price)
		}
		confSum += conf

		points = append(points, Point{
			Date:       date,
			Price:      price,
			Confidence: conf,
			LowerBound: lower,
			UpperBound: upper,
		})
	}

	features := []string{"trend", "weekly_seasonality"}
	if withYearly {
		features = append(features, "yearly_seasonality")
	}

	return &Result{
		Points:         points,
		Confidence:     confSum / float64(daysAhead),
		TrendDirection: direction,
		TrendStrength:  strength,
		FeaturesUsed:   features,
		ModelParams: map[string]interface{}{
			"n_observations": n,
			"weekly_order":   weeklyOrder,
			"yearly_order":   yearlyOrder,
			"yearly_enabled": withYearly,
			"sigma":          sigma,
			"interval_width": 0.95,
		},
	}, nil
}

func designWidth(withYearly bool) int {
	cols := 2 + 2*weeklyOrder
	if withYearly {
		cols += 2 * yearlyOrder
	}
	return cols
}

// designRow builds one regression row: intercept, linear trend, then
// sin/cos pairs for each enabled seasonal frequency.
func designRow(t float64, withYearly bool) []float64 {
	row := make([]float64, 0, designWidth(withYearly))
	row = append(row, 1, t)
	for k := 1; k <= weeklyOrder; k++ {
		theta := 2 * math.Pi * float64(k) * t / 7
		row = append(row, math.Sin(theta), math.Cos(theta))
	}
	if withYearly {
		for k := 1; k <= yearlyOrder; k++ {
			theta := 2 * math.Pi * float64(k) * t / yearlyPeriod
			row = append(row, math.Sin(theta), math.Cos(theta))
		}
	}
	return row
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
