package analysis

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dealwatch-project/backend/internal/errs"
)

func makeSeries(prices []float64) []Point {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make([]Point, len(prices))
	for i, p := range prices {
		series[i] = Point{Timestamp: start.AddDate(0, 0, i), Price: p}
	}
	return series
}

func TestAnalyzeRejectsShortHistory(t *testing.T) {
	a := NewAnalyzer(30)
	prices := make([]float64, 29)
	for i := range prices {
		prices[i] = 100
	}

	_, err := a.Analyze(makeSeries(prices))
	if err == nil {
		t.Fatal("expected error for 29 points with minimum 30")
	}

	var insufficient *errs.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %T: %v", err, err)
	}
	if insufficient.Required != 30 || insufficient.Available != 29 {
		t.Fatalf("unexpected error fields: required=%d available=%d", insufficient.Required, insufficient.Available)
	}
}

func TestAnalyzeIncreasingTrend(t *testing.T) {
	a := NewAnalyzer(30)
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100 + float64(i)*2
	}

	res, err := a.Analyze(makeSeries(prices))
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if res.Trend.Direction != "increasing" {
		t.Fatalf("expected increasing trend, got %q", res.Trend.Direction)
	}
	if res.Trend.Slope <= 0 {
		t.Fatalf("expected positive slope, got %f", res.Trend.Slope)
	}
	if res.Trend.Confidence < 0 || res.Trend.Confidence > 1 {
		t.Fatalf("trend confidence out of range: %f", res.Trend.Confidence)
	}
}

func TestAnalyzeFlatSeries(t *testing.T) {
	a := NewAnalyzer(30)
	prices := make([]float64, 35)
	for i := range prices {
		prices[i] = 50
	}

	res, err := a.Analyze(makeSeries(prices))
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if res.Trend.Direction != "stable" {
		t.Fatalf("expected stable trend, got %q", res.Trend.Direction)
	}
	if len(res.Anomalies) != 0 {
		t.Fatalf("flat series should flag no anomalies, got %d", len(res.Anomalies))
	}
	if res.Volatility != 0 {
		t.Fatalf("flat series volatility should be 0, got %f", res.Volatility)
	}
	// Decomposition degenerates on a flat series; that must surface as a
	// warning, not a hard failure.
	found := false
	for _, w := range res.Warnings {
		if w.Step == "seasonality" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected seasonality warning, got %v", res.Warnings)
	}
}

func TestAnalyzeWeeklySeasonality(t *testing.T) {
	a := NewAnalyzer(30)
	prices := make([]float64, 56)
	for i := range prices {
		weekly := 5 * math.Sin(2*math.Pi*float64(i)/7)
		noise := 0.3 * math.Sin(float64(i)*1.7)
		prices[i] = 100 + weekly + noise
	}

	res, err := a.Analyze(makeSeries(prices))
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if res.Seasonality.Period != 7 {
		t.Fatalf("expected period 7, got %d", res.Seasonality.Period)
	}
	if res.Seasonality.Strength < 0.5 {
		t.Fatalf("expected strong weekly seasonality, got strength %f", res.Seasonality.Strength)
	}
	if res.Seasonality.Confidence < 0 || res.Seasonality.Confidence > 1 {
		t.Fatalf("seasonality confidence out of range: %f", res.Seasonality.Confidence)
	}
}

func TestAnalyzeDetectsSpike(t *testing.T) {
	a := NewAnalyzer(30)
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100 + math.Sin(float64(i))
	}
	prices[25] = 500

	res, err := a.Analyze(makeSeries(prices))
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if len(res.Anomalies) == 0 {
		t.Fatal("expected the spike to be flagged")
	}
	found := false
	for _, an := range res.Anomalies {
		if an.Index == 25 && an.Price == 500 {
			found = true
		}
	}
	if !found {
		t.Fatalf("spike at index 25 not flagged: %+v", res.Anomalies)
	}
}

func TestAnalyzeSortsByTimestamp(t *testing.T) {
	a := NewAnalyzer(30)
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100 + float64(i)*3
	}
	series := makeSeries(prices)
	// Shuffle deterministically; the analyzer must sort before any math.
	for i := 0; i < len(series)-1; i += 2 {
		series[i], series[i+1] = series[i+1], series[i]
	}

	res, err := a.Analyze(series)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if res.Trend.Direction != "increasing" {
		t.Fatalf("expected increasing trend after sorting, got %q", res.Trend.Direction)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		prices []float64
		want   string
	}{
		{"rising", []float64{100, 105, 112}, "increasing"},
		{"falling", []float64{100, 95, 88}, "decreasing"},
		{"within band", []float64{100, 101, 103}, "stable"},
		{"too short", []float64{100}, "stable"},
	}
	for _, tc := range cases {
		if got := Classify(tc.prices); got != tc.want {
			t.Errorf("%s: Classify = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestReturnsVolatility(t *testing.T) {
	// Constant 10% returns have zero spread.
	if v := ReturnsVolatility([]float64{100, 110, 121}); v != 0 {
		t.Fatalf("expected zero volatility for constant returns, got %f", v)
	}
	if v := ReturnsVolatility([]float64{100}); v != 0 {
		t.Fatalf("expected zero volatility for single point, got %f", v)
	}
	if v := ReturnsVolatility([]float64{100, 110, 99, 120}); v <= 0 {
		t.Fatalf("expected positive volatility, got %f", v)
	}
}
