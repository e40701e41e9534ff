/**
 * @description
 * Background price monitoring.
 * Runs three cancellable loops: a tracker sweep that polls current prices
 * for due trackers, a prediction refresh for actively tracked deals, and a
 * retention cleanup for old price points. All loops stop on context
 * cancellation and are awaited on shutdown.
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/config
 * - backend/internal/models
 */

package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dealwatch-project/backend/internal/config"
	"github.com/dealwatch-project/backend/internal/errs"
	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/dealwatch-project/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceFetcher is the boundary contract with the external market data API.
type PriceFetcher interface {
	GetCurrentPrice(ctx context.Context, productURL string) (decimal.Decimal, error)
}

// MonitorService drives the periodic tracking work
type MonitorService struct {
	DB          *gorm.DB
	Trackers    *TrackerService
	Predictions *PredictionService
	Market      PriceFetcher
	Cfg         config.TrackingConfig

	wg sync.WaitGroup
}

// NewMonitorService creates a new MonitorService
func NewMonitorService(db *gorm.DB, trackers *TrackerService, predictions *PredictionService, market PriceFetcher, cfg config.TrackingConfig) *MonitorService {
	return &MonitorService{
		DB:          db,
		Trackers:    trackers,
		Predictions: predictions,
		Market:      market,
		Cfg:         cfg,
	}
}

// Start launches the monitoring loops. They run until ctx is cancelled.
func (s *MonitorService) Start(ctx context.Context) {
	s.loop(ctx, "tracker sweep", s.Cfg.CheckSweepInterval, s.sweepTrackers)
	s.loop(ctx, "prediction refresh", s.Cfg.PredictionRefresh, s.refreshPredictions)
	s.loop(ctx, "retention cleanup", s.Cfg.CleanupInterval, s.cleanupPricePoints)
}

// Wait blocks until all loops have exited.
func (s *MonitorService) Wait() {
	s.wg.Wait()
}

func (s *MonitorService) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("MonitorService: %s loop started (every %s)", name, interval)
		for {
			select {
			case <-ctx.Done():
				logger.Info("MonitorService: %s loop stopped", name)
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// sweepTrackers polls the market price once per deal with due trackers,
// ingests the point (which evaluates thresholds), and advances last_check.
func (s *MonitorService) sweepTrackers(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.Trackers.ListDueTrackers(ctx, now)
	if err != nil {
		logger.Error("MonitorService: failed to list due trackers: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	byDeal := make(map[uuid.UUID][]models.PriceTracker)
	for _, t := range due {
		byDeal[t.DealID] = append(byDeal[t.DealID], t)
	}

	for dealID, trackers := range byDeal {
		var deal models.Deal
		if err := s.DB.WithContext(ctx).First(&deal, "id = ?", dealID).Error; err != nil {
			logger.Error("MonitorService: failed to load deal %s: %v", dealID, err)
			continue
		}

		price, err := s.Market.GetCurrentPrice(ctx, deal.URL)
		if err != nil {
			logger.Error("MonitorService: price fetch failed for deal %s: %v", dealID, err)
			continue
		}

		if _, err := s.Trackers.IngestDealPrice(ctx, dealID, price, deal.Currency, deal.Source); err != nil {
			logger.Error("MonitorService: failed to ingest price for deal %s: %v", dealID, err)
			continue
		}

		ids := make([]uuid.UUID, len(trackers))
		for i, t := range trackers {
			ids[i] = t.ID
		}
		if err := s.DB.WithContext(ctx).
			Model(&models.PriceTracker{}).
			Where("id IN ?", ids).
			Update("last_check", now).Error; err != nil {
			logger.Error("MonitorService: failed to update last_check for deal %s: %v", dealID, err)
		}
	}
}

// refreshPredictions regenerates forecasts for every deal with at least one
// active tracker. Deals without enough history are skipped, not errors.
func (s *MonitorService) refreshPredictions(ctx context.Context) {
	var dealIDs []uuid.UUID
	err := s.DB.WithContext(ctx).
		Model(&models.PriceTracker{}).
		Where("is_active = ?", true).
		Distinct().
		Pluck("deal_id", &dealIDs).Error
	if err != nil {
		logger.Error("MonitorService: failed to list tracked deals: %v", err)
		return
	}

	for _, dealID := range dealIDs {
		// Attribute the refresh to the oldest active tracker's owner.
		var tracker models.PriceTracker
		if err := s.DB.WithContext(ctx).
			Where("deal_id = ? AND is_active = ?", dealID, true).
			Order("created_at ASC").
			First(&tracker).Error; err != nil {
			continue
		}

		_, err := s.Predictions.CreatePrediction(ctx, CreatePredictionParams{
			DealID: dealID,
			UserID: tracker.UserID,
		})
		var insufficient *errs.InsufficientDataError
		if errors.As(err, &insufficient) {
			continue
		}
		if err != nil {
			logger.Error("MonitorService: prediction refresh failed for deal %s: %v", dealID, err)
		}
	}
}

// cleanupPricePoints purges points older than the retention window.
func (s *MonitorService) cleanupPricePoints(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.Cfg.RetentionDays)
	res := s.DB.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.PricePoint{})
	if res.Error != nil {
		logger.Error("MonitorService: cleanup failed: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		logger.Info("MonitorService: purged %d price points older than %s", res.RowsAffected, cutoff.Format(time.RFC3339))
	}
}
