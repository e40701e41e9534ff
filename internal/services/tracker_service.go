/**
 * @description
 * Price tracker service.
 * Creates and mutates trackers, appends price points, evaluates threshold
 * crossings and computes on-demand price statistics. All repository errors
 * are wrapped into the domain taxonomy after rollback.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/redis/go-redis/v9
 * - github.com/shopspring/decimal
 * - backend/internal/models
 * - backend/internal/analysis
 * - backend/internal/errs
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dealwatch-project/backend/internal/analysis"
	"github.com/dealwatch-project/backend/internal/errs"
	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/dealwatch-project/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultCheckInterval is applied when a tracker is created without one.
const DefaultCheckInterval = 300

// TrackerService handles tracker lifecycle and price point ingestion
type TrackerService struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Notifier NotificationPublisher
}

// NewTrackerService creates a new TrackerService
func NewTrackerService(db *gorm.DB, rdb *redis.Client, notifier NotificationPublisher) *TrackerService {
	return &TrackerService{
		DB:       db,
		Redis:    rdb,
		Notifier: notifier,
	}
}

// CreateTrackerParams holds inputs for CreateTracker
type CreateTrackerParams struct {
	DealID               uuid.UUID
	UserID               uuid.UUID
	ThresholdPrice       *decimal.Decimal
	CheckInterval        int // seconds; defaults to DefaultCheckInterval
	NotificationSettings map[string]interface{}
}

// CreateTracker registers a (deal, user) tracking relationship. The deal's
// current price is frozen as initial_price. The worker picks the tracker up
// on its next sweep; no extra registration step is needed.
func (s *TrackerService) CreateTracker(ctx context.Context, p CreateTrackerParams) (*models.PriceTracker, error) {
	if p.CheckInterval == 0 {
		p.CheckInterval = DefaultCheckInterval
	}
	if p.CheckInterval < models.MinCheckInterval {
		return nil, &errs.ValidationError{
			Field:  "check_interval",
			Reason: fmt.Sprintf("must be at least %d seconds, got %d", models.MinCheckInterval, p.CheckInterval),
		}
	}
	if p.ThresholdPrice != nil && p.ThresholdPrice.Sign() <= 0 {
		return nil, &errs.ValidationError{Field: "threshold_price", Reason: "must be positive"}
	}

	var deal models.Deal
	if err := s.DB.WithContext(ctx).First(&deal, "id = ?", p.DealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "deal", ID: p.DealID.String()}
		}
		return nil, errs.Tracking("create tracker", err)
	}

	tracker := &models.PriceTracker{
		DealID:               p.DealID,
		UserID:               p.UserID,
		InitialPrice:         deal.Price,
		ThresholdPrice:       p.ThresholdPrice,
		CheckInterval:        p.CheckInterval,
		LastCheck:            time.Now().UTC(),
		IsActive:             true,
		NotificationSettings: datatypes.JSONMap(p.NotificationSettings),
	}

	if err := s.DB.WithContext(ctx).Create(tracker).Error; err != nil {
		return nil, errs.Tracking("create tracker", err)
	}

	logger.Info("TrackerService: created tracker %s for deal %s (user %s)", tracker.ID, p.DealID, p.UserID)
	return tracker, nil
}

// AddPricePoint validates ownership, appends an immutable price point,
// advances the tracker's last_check and evaluates the threshold.
func (s *TrackerService) AddPricePoint(ctx context.Context, trackerID, userID uuid.UUID, price decimal.Decimal, currency, source string) (*models.PricePoint, error) {
	if price.Sign() <= 0 {
		return nil, &errs.ValidationError{Field: "price", Reason: "must be positive"}
	}
	if currency == "" {
		currency = "USD"
	}

	tracker, err := s.getOwnedTracker(ctx, trackerID, userID)
	if err != nil {
		return nil, err
	}

	// Previous price decides whether this point is a downward crossing.
	// Falls back to the tracker's initial price for the first point.
	prevPrice := tracker.InitialPrice
	var prev models.PricePoint
	err = s.DB.WithContext(ctx).
		Where("deal_id = ?", tracker.DealID).
		Order("timestamp DESC").
		First(&prev).Error
	if err == nil {
		prevPrice = prev.Price
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Tracking("add price point", err)
	}

	point := &models.PricePoint{
		DealID:    tracker.DealID,
		Price:     price,
		Currency:  currency,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}

	now := time.Now().UTC()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(point).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.PriceTracker{}).
			Where("id = ?", tracker.ID).
			Update("last_check", now).Error; err != nil {
			return err
		}
		return tx.Model(&models.Deal{}).
			Where("id = ?", tracker.DealID).
			Update("price", price).Error
	})
	if err != nil {
		return nil, errs.Tracking("add price point", err)
	}

	s.publishPriceUpdate(ctx, tracker.DealID, point)
	s.checkPriceThreshold(ctx, tracker, prevPrice, price)

	return point, nil
}

// IngestDealPrice appends one price point for a deal and evaluates the
// threshold of every active tracker watching it. This is the path for the
// worker sweep and the live feed, where a price observation belongs to the
// deal rather than to a single tracker.
func (s *TrackerService) IngestDealPrice(ctx context.Context, dealID uuid.UUID, price decimal.Decimal, currency, source string) (*models.PricePoint, error) {
	if price.Sign() <= 0 {
		return nil, &errs.ValidationError{Field: "price", Reason: "must be positive"}
	}
	if currency == "" {
		currency = "USD"
	}

	var deal models.Deal
	if err := s.DB.WithContext(ctx).First(&deal, "id = ?", dealID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.NotFoundError{Entity: "deal", ID: dealID.String()}
		}
		return nil, errs.Tracking("ingest deal price", err)
	}

	prevPrice := deal.Price
	var prev models.PricePoint
	err := s.DB.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("timestamp DESC").
		First(&prev).Error
	if err == nil {
		prevPrice = prev.Price
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Tracking("ingest deal price", err)
	}

	point := &models.PricePoint{
		DealID:    dealID,
		Price:     price,
		Currency:  currency,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(point).Error; err != nil {
			return err
		}
		return tx.Model(&models.Deal{}).
			Where("id = ?", dealID).
			Update("price", price).Error
	})
	if err != nil {
		return nil, errs.Tracking("ingest deal price", err)
	}

	s.publishPriceUpdate(ctx, dealID, point)

	var trackers []models.PriceTracker
	if err := s.DB.WithContext(ctx).
		Where("deal_id = ? AND is_active = ?", dealID, true).
		Find(&trackers).Error; err != nil {
		logger.Error("TrackerService: failed to load trackers for deal %s: %v", dealID, err)
		return point, nil
	}
	for i := range trackers {
		s.checkPriceThreshold(ctx, &trackers[i], prevPrice, price)
	}

	return point, nil
}

// checkPriceThreshold fires one notification when the price crosses the
// tracker's threshold downward. Edge-triggered on the previous price so a
// price that stays below the threshold does not re-notify on every point.
func (s *TrackerService) checkPriceThreshold(ctx context.Context, tracker *models.PriceTracker, prevPrice, newPrice decimal.Decimal) {
	if !tracker.IsActive || tracker.ThresholdPrice == nil || s.Notifier == nil {
		return
	}
	threshold := *tracker.ThresholdPrice

	if newPrice.Cmp(threshold) > 0 || prevPrice.Cmp(threshold) <= 0 {
		return
	}
	if !thresholdAlertsEnabled(tracker.NotificationSettings) {
		return
	}

	var pctChange float64
	if prevPrice.Sign() != 0 {
		pctChange, _ = newPrice.Sub(prevPrice).Div(prevPrice).Mul(decimal.NewFromInt(100)).Float64()
	}

	trackerID := tracker.ID
	event := NotificationEvent{
		Type:      NotificationTypePriceThreshold,
		UserID:    tracker.UserID,
		DealID:    tracker.DealID,
		TrackerID: &trackerID,
		Title:     "Price drop alert",
		Message: fmt.Sprintf("Price dropped from %s to %s (%.2f%%), below your threshold of %s",
			prevPrice.StringFixed(2), newPrice.StringFixed(2), pctChange, threshold.StringFixed(2)),
		Data: map[string]interface{}{
			"old_price":       prevPrice.String(),
			"new_price":       newPrice.String(),
			"threshold_price": threshold.String(),
			"percent_change":  pctChange,
		},
	}

	if err := s.Notifier.Publish(ctx, event); err != nil {
		logger.Error("TrackerService: failed to publish threshold event for tracker %s: %v", tracker.ID, err)
	}
}

func thresholdAlertsEnabled(settings datatypes.JSONMap) bool {
	if settings == nil {
		return true
	}
	if v, ok := settings["threshold_alerts"]; ok {
		if enabled, ok := v.(bool); ok {
			return enabled
		}
	}
	return true
}

// publishPriceUpdate pushes the appended point onto the Redis backplane so
// WebSocket hubs in any process see it immediately.
func (s *TrackerService) publishPriceUpdate(ctx context.Context, dealID uuid.UUID, point *models.PricePoint) {
	if s.Redis == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"deal_id": dealID,
		"data":    point,
	})
	if err != nil {
		return
	}
	if err := s.Redis.Publish(ctx, PriceUpdateChannel, payload).Err(); err != nil {
		logger.Error("TrackerService: failed to publish price update for deal %s: %v", dealID, err)
	}
}

// GetPriceStats derives statistics from the tracked deal's price history.
// Calling it twice with no new points returns identical results.
func (s *TrackerService) GetPriceStats(ctx context.Context, trackerID, userID uuid.UUID) (*models.PriceStatistics, error) {
	tracker, err := s.getOwnedTracker(ctx, trackerID, userID)
	if err != nil {
		return nil, err
	}

	var points []models.PricePoint
	if err := s.DB.WithContext(ctx).
		Where("deal_id = ?", tracker.DealID).
		Order("timestamp ASC").
		Find(&points).Error; err != nil {
		return nil, errs.Tracking("get price stats", err)
	}
	if len(points) == 0 {
		return nil, &errs.TrackingError{Op: "get price stats", Err: fmt.Errorf("no price history for tracker %s", trackerID)}
	}

	prices := make([]decimal.Decimal, len(points))
	floats := make([]float64, len(points))
	sum := decimal.Zero
	for i, p := range points {
		prices[i] = p.Price
		floats[i], _ = p.Price.Float64()
		sum = sum.Add(p.Price)
	}

	minP, maxP := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p.Cmp(minP) < 0 {
			minP = p
		}
		if p.Cmp(maxP) > 0 {
			maxP = p
		}
	}

	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	var median decimal.Decimal
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		median = sorted[mid]
	} else {
		median = sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
	}

	return &models.PriceStatistics{
		MinPrice:    minP,
		MaxPrice:    maxP,
		AvgPrice:    sum.Div(decimal.NewFromInt(int64(len(prices)))),
		MedianPrice: median,
		Volatility:  meanAbsoluteReturn(floats),
		TotalPoints: len(points),
		TimeRange:   points[len(points)-1].Timestamp.Sub(points[0].Timestamp),
		LastUpdate:  points[len(points)-1].Timestamp,
		Trend:       analysis.Classify(floats),
	}, nil
}

// meanAbsoluteReturn is the tracker-stats volatility measure: the mean of
// absolute period-over-period returns.
func meanAbsoluteReturn(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	var sum float64
	var count int
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		r := (prices[i] - prices[i-1]) / prices[i-1]
		if r < 0 {
			r = -r
		}
		sum += r
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// UpdateTrackerParams holds optional tracker mutations
type UpdateTrackerParams struct {
	ThresholdPrice       *decimal.Decimal
	CheckInterval        *int
	IsActive             *bool
	NotificationSettings map[string]interface{}
}

// UpdateTracker applies ownership-checked mutations
func (s *TrackerService) UpdateTracker(ctx context.Context, trackerID, userID uuid.UUID, p UpdateTrackerParams) (*models.PriceTracker, error) {
	tracker, err := s.getOwnedTracker(ctx, trackerID, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if p.ThresholdPrice != nil {
		if p.ThresholdPrice.Sign() <= 0 {
			return nil, &errs.ValidationError{Field: "threshold_price", Reason: "must be positive"}
		}
		updates["threshold_price"] = *p.ThresholdPrice
	}
	if p.CheckInterval != nil {
		if *p.CheckInterval < models.MinCheckInterval {
			return nil, &errs.ValidationError{
				Field:  "check_interval",
				Reason: fmt.Sprintf("must be at least %d seconds, got %d", models.MinCheckInterval, *p.CheckInterval),
			}
		}
		updates["check_interval"] = *p.CheckInterval
	}
	if p.IsActive != nil {
		updates["is_active"] = *p.IsActive
	}
	if p.NotificationSettings != nil {
		updates["notification_settings"] = datatypes.JSONMap(p.NotificationSettings)
	}
	if len(updates) == 0 {
		return tracker, nil
	}

	if err := s.DB.WithContext(ctx).Model(tracker).Updates(updates).Error; err != nil {
		return nil, errs.Tracking("update tracker", err)
	}
	return tracker, nil
}

// DeleteTracker removes the tracker; the worker stops polling it on the next
// sweep since due trackers are read from the database.
func (s *TrackerService) DeleteTracker(ctx context.Context, trackerID, userID uuid.UUID) error {
	tracker, err := s.getOwnedTracker(ctx, trackerID, userID)
	if err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Delete(tracker).Error; err != nil {
		return errs.Tracking("delete tracker", err)
	}
	logger.Info("TrackerService: deleted tracker %s", trackerID)
	return nil
}

// GetPriceHistory returns a deal's price points ordered by timestamp
// ascending, capped at limit when limit > 0.
func (s *TrackerService) GetPriceHistory(ctx context.Context, dealID uuid.UUID, limit int) ([]models.PricePoint, error) {
	q := s.DB.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var points []models.PricePoint
	if err := q.Find(&points).Error; err != nil {
		return nil, errs.Tracking("get price history", err)
	}
	return points, nil
}

// LatestPricePoint returns the most recent price point for a deal, or nil
// when the deal has no history.
func (s *TrackerService) LatestPricePoint(ctx context.Context, dealID uuid.UUID) (*models.PricePoint, error) {
	var point models.PricePoint
	err := s.DB.WithContext(ctx).
		Where("deal_id = ?", dealID).
		Order("timestamp DESC").
		First(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Tracking("latest price point", err)
	}
	return &point, nil
}

// ListDueTrackers returns active trackers whose check interval has elapsed.
func (s *TrackerService) ListDueTrackers(ctx context.Context, now time.Time) ([]models.PriceTracker, error) {
	var trackers []models.PriceTracker
	err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&trackers).Error
	if err != nil {
		return nil, errs.Tracking("list due trackers", err)
	}

	due := trackers[:0]
	for _, t := range trackers {
		if t.Due(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

// ActiveDealIDs returns the distinct deal IDs that have at least one active
// tracker. The worker uses this to keep feed subscriptions fresh.
func (s *TrackerService) ActiveDealIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.DB.WithContext(ctx).
		Model(&models.PriceTracker{}).
		Where("is_active = ?", true).
		Distinct().
		Pluck("deal_id", &ids).Error
	if err != nil {
		return nil, errs.Tracking("list active deal ids", err)
	}
	return ids, nil
}

func (s *TrackerService) getOwnedTracker(ctx context.Context, trackerID, userID uuid.UUID) (*models.PriceTracker, error) {
	var tracker models.PriceTracker
	err := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", trackerID, userID).
		First(&tracker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &errs.NotFoundError{Entity: "tracker", ID: trackerID.String()}
	}
	if err != nil {
		return nil, errs.Tracking("load tracker", err)
	}
	return &tracker, nil
}
