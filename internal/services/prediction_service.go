/**
 * @description
 * Price prediction service.
 * Runs the forecaster over a deal's price history, persists immutable
 * prediction rows, serves paginated reads, and produces the composite
 * price analysis (trend, seasonality, anomalies, volatility, forecast
 * quality) with opportunistic Redis caching.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/redis/go-redis/v9
 * - backend/internal/analysis
 * - backend/internal/forecast
 * - backend/internal/models
 * - backend/internal/errs
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dealwatch-project/backend/internal/analysis"
	"github.com/dealwatch-project/backend/internal/errs"
	"github.com/dealwatch-project/backend/internal/forecast"
	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/dealwatch-project/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// DefaultPredictionDays is the forecast horizon when none is requested.
	DefaultPredictionDays = 7

	// DefaultConfidenceThreshold is stored with each prediction row.
	DefaultConfidenceThreshold = 0.5

	analysisCacheKeyFmt = "deals:analysis:%s"
	analysisCacheTTL    = 5 * time.Minute

	// forecastQualityWindow is how many recent predictions feed the
	// forecast-quality metric.
	forecastQualityWindow = 10

	// Material-change thresholds for prediction notifications.
	materialConfidenceDelta = 0.1
	materialPriceChange     = 0.10
)

// PredictionService creates and serves price predictions
type PredictionService struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Forecaster *forecast.Forecaster
	Analyzer   *analysis.Analyzer
	Notifier   NotificationPublisher
}

// NewPredictionService creates a new PredictionService
func NewPredictionService(db *gorm.DB, rdb *redis.Client, fc *forecast.Forecaster, an *analysis.Analyzer, notifier NotificationPublisher) *PredictionService {
	return &PredictionService{
		DB:         db,
		Redis:      rdb,
		Forecaster: fc,
		Analyzer:   an,
		Notifier:   notifier,
	}
}

// CreatePredictionParams holds inputs for CreatePrediction
type CreatePredictionParams struct {
	DealID              uuid.UUID
	UserID              uuid.UUID
	PredictionDays      int     // defaults to DefaultPredictionDays
	ConfidenceThreshold float64 // defaults to DefaultConfidenceThreshold
}

// CreatePrediction runs the forecaster and persists one new prediction row.
// Rows accumulate per deal; newer rows supersede older ones without mutation.
func (s *PredictionService) CreatePrediction(ctx context.Context, p CreatePredictionParams) (*models.PricePrediction, error) {
	if p.PredictionDays == 0 {
		p.PredictionDays = DefaultPredictionDays
	}
	if p.ConfidenceThreshold == 0 {
		p.ConfidenceThreshold = DefaultConfidenceThreshold
	}

	var deal models.Deal
	if err := s.DB.WithContext(ctx).First(&deal, "id = ?", p.DealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "deal", ID: p.DealID.String()}
		}
		return nil, errs.Prediction(forecast.ModelName, "load deal", err)
	}

	series, err := s.loadSeries(ctx, p.DealID)
	if err != nil {
		return nil, err
	}

	result, err := s.Forecaster.Generate(ctx, series, p.PredictionDays, p.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	// Derived seasonality metadata rides along with the forecast. A failed
	// sub-analysis just leaves the score empty.
	var seasonalityScore *float64
	if res, aerr := s.Analyzer.Analyze(series); aerr == nil {
		score := res.Seasonality.Strength
		seasonalityScore = &score
	}

	pointsJSON, err := json.Marshal(result.Points)
	if err != nil {
		return nil, errs.Prediction(forecast.ModelName, "encode points", err)
	}

	// Latest previous prediction, for material-change detection.
	previous, err := s.latestPrediction(ctx, p.DealID)
	if err != nil {
		return nil, err
	}

	row := &models.PricePrediction{
		DealID:              p.DealID,
		UserID:              p.UserID,
		ModelName:           forecast.ModelName,
		PredictionDays:      p.PredictionDays,
		ConfidenceThreshold: p.ConfidenceThreshold,
		Predictions:         datatypes.JSON(pointsJSON),
		OverallConfidence:   result.Confidence,
		TrendDirection:      result.TrendDirection,
		TrendStrength:       result.TrendStrength,
		SeasonalityScore:    seasonalityScore,
		FeaturesUsed:        models.StringArray(result.FeaturesUsed),
		ModelParams:         datatypes.JSONMap(result.ModelParams),
	}

	if err := s.DB.WithContext(ctx).Create(row).Error; err != nil {
		return nil, errs.Prediction(forecast.ModelName, "persist", err)
	}

	s.publishPredictionUpdate(ctx, row)
	s.notifyMaterialChange(ctx, previous, row, result.Points)

	logger.Info("PredictionService: created prediction %s for deal %s (%d days, confidence %.2f)",
		row.ID, p.DealID, p.PredictionDays, result.Confidence)
	return row, nil
}

// GetDealPredictions returns a deal's predictions, newest first.
func (s *PredictionService) GetDealPredictions(ctx context.Context, dealID uuid.UUID, skip, limit int) ([]models.PricePrediction, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.PricePrediction
	err := s.DB.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Prediction(forecast.ModelName, "list deal predictions", err)
	}
	return rows, nil
}

// ListPredictions returns a user's predictions, newest first.
func (s *PredictionService) ListPredictions(ctx context.Context, userID uuid.UUID, skip, limit int) ([]models.PricePrediction, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.PricePrediction
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Prediction(forecast.ModelName, "list predictions", err)
	}
	return rows, nil
}

// DealPriceAnalysis is the composite read model for a deal's price behavior.
type DealPriceAnalysis struct {
	DealID          uuid.UUID          `json:"deal_id"`
	Trend           analysis.Trend     `json:"trend"`
	Seasonality     analysis.Seasonality `json:"seasonality"`
	Anomalies       []analysis.Anomaly `json:"anomalies"`
	Volatility      float64            `json:"volatility"`
	ForecastQuality float64            `json:"forecast_quality"`
	Warnings        []analysis.Warning `json:"warnings,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// AnalyzeDealPrice combines trend, seasonality, anomaly, volatility and
// forecast-quality metrics for a deal. Results are cached in Redis; a cache
// miss or failure always falls back to live computation.
func (s *PredictionService) AnalyzeDealPrice(ctx context.Context, dealID uuid.UUID) (*DealPriceAnalysis, error) {
	cacheKey := fmt.Sprintf(analysisCacheKeyFmt, dealID)
	if s.Redis != nil {
		if val, err := s.Redis.Get(ctx, cacheKey).Result(); err == nil {
			var cached DealPriceAnalysis
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return &cached, nil
			}
		}
	}

	series, err := s.loadSeries(ctx, dealID)
	if err != nil {
		return nil, err
	}

	res, err := s.Analyzer.Analyze(series)
	if err != nil {
		return nil, err
	}

	quality, err := s.forecastQuality(ctx, dealID)
	if err != nil {
		return nil, err
	}

	out := &DealPriceAnalysis{
		DealID:          dealID,
		Trend:           res.Trend,
		Seasonality:     res.Seasonality,
		Anomalies:       res.Anomalies,
		Volatility:      res.Volatility,
		ForecastQuality: quality,
		Warnings:        res.Warnings,
		GeneratedAt:     time.Now().UTC(),
	}

	if s.Redis != nil {
		if data, err := json.Marshal(out); err == nil {
			if err := s.Redis.Set(ctx, cacheKey, data, analysisCacheTTL).Err(); err != nil {
				logger.Error("PredictionService: failed to cache analysis for deal %s: %v", dealID, err)
			}
		}
	}

	return out, nil
}

// forecastQuality is the mean overall confidence of the deal's recent
// predictions; 0 when the deal has none.
func (s *PredictionService) forecastQuality(ctx context.Context, dealID uuid.UUID) (float64, error) {
	rows, err := s.GetDealPredictions(ctx, dealID, 0, forecastQualityWindow)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	var sum float64
	for _, r := range rows {
		sum += r.OverallConfidence
	}
	return sum / float64(len(rows)), nil
}

// loadSeries reads a deal's full price history in timestamp order.
func (s *PredictionService) loadSeries(ctx context.Context, dealID uuid.UUID) ([]analysis.Point, error) {
	var points []models.PricePoint
	err := s.DB.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("timestamp ASC").
		Find(&points).Error
	if err != nil {
		return nil, errs.Prediction(forecast.ModelName, "load history", err)
	}

	series := make([]analysis.Point, len(points))
	for i, p := range points {
		price, _ := p.Price.Float64()
		series[i] = analysis.Point{Timestamp: p.Timestamp, Price: price}
	}
	return series, nil
}

func (s *PredictionService) latestPrediction(ctx context.Context, dealID uuid.UUID) (*models.PricePrediction, error) {
	var row models.PricePrediction
	err := s.DB.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Prediction(forecast.ModelName, "load previous", err)
	}
	return &row, nil
}

// notifyMaterialChange fires a notification when the new prediction
// materially differs from the previous one: a trend-direction flip, an
// overall-confidence delta above 0.1, or any forecast day moving more
// than 10%.
func (s *PredictionService) notifyMaterialChange(ctx context.Context, previous, current *models.PricePrediction, points []forecast.Point) {
	if s.Notifier == nil || previous == nil || current == nil {
		return
	}

	reason := materialChangeReason(previous, current, points)
	if reason == "" {
		return
	}

	predictionID := current.ID
	event := NotificationEvent{
		Type:         NotificationTypePredictionChange,
		UserID:       current.UserID,
		DealID:       current.DealID,
		PredictionID: &predictionID,
		Title:        "Price forecast changed",
		Message:      fmt.Sprintf("The price forecast for this deal changed: %s", reason),
		Data: map[string]interface{}{
			"previous_prediction_id": previous.ID,
			"trend_direction":        current.TrendDirection,
			"overall_confidence":     current.OverallConfidence,
			"reason":                 reason,
		},
	}
	if err := s.Notifier.Publish(ctx, event); err != nil {
		logger.Error("PredictionService: failed to publish prediction change for deal %s: %v", current.DealID, err)
	}
}

// materialChangeReason returns a human-readable reason, or "" when the new
// prediction is not materially different.
func materialChangeReason(previous, current *models.PricePrediction, points []forecast.Point) string {
	if previous.TrendDirection != "" && previous.TrendDirection != current.TrendDirection {
		return fmt.Sprintf("trend flipped from %s to %s", previous.TrendDirection, current.TrendDirection)
	}
	if math.Abs(previous.OverallConfidence-current.OverallConfidence) > materialConfidenceDelta {
		return fmt.Sprintf("confidence moved from %.2f to %.2f", previous.OverallConfidence, current.OverallConfidence)
	}

	var prevPoints []forecast.Point
	if err := json.Unmarshal(previous.Predictions, &prevPoints); err != nil {
		return ""
	}
	n := len(prevPoints)
	if len(points) < n {
		n = len(points)
	}
	for i := 0; i < n; i++ {
		if prevPoints[i].Price == 0 {
			continue
		}
		change := math.Abs(points[i].Price-prevPoints[i].Price) / math.Abs(prevPoints[i].Price)
		if change > materialPriceChange {
			return fmt.Sprintf("day %d forecast moved %.1f%%", i+1, change*100)
		}
	}
	return ""
}

// publishPredictionUpdate pushes the new prediction onto the Redis backplane.
func (s *PredictionService) publishPredictionUpdate(ctx context.Context, row *models.PricePrediction) {
	if s.Redis == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"deal_id": row.DealID,
		"data":    row,
	})
	if err != nil {
		return
	}
	if err := s.Redis.Publish(ctx, PredictionUpdateChannel, payload).Err(); err != nil {
		logger.Error("PredictionService: failed to publish prediction update for deal %s: %v", row.DealID, err)
	}
}
