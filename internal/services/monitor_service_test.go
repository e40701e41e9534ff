package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dealwatch-project/backend/internal/config"
	"github.com/dealwatch-project/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type stubFetcher struct {
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubFetcher) GetCurrentPrice(context.Context, string) (decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}

func testTrackingConfig() config.TrackingConfig {
	return config.TrackingConfig{
		MinHistoryPoints:   30,
		CheckSweepInterval: time.Minute,
		PredictionRefresh:  time.Hour,
		CleanupInterval:    24 * time.Hour,
		RetentionDays:      90,
	}
}

func TestSweepTrackersIngestsDuePrices(t *testing.T) {
	db := setupTestDB(t)
	rdb := setupTestRedis(t)
	notifier := &captureNotifier{}
	trackers := NewTrackerService(db, rdb, notifier)
	predictions := newPredictionService(db, t, notifier)
	fetcher := &stubFetcher{price: decimal.RequireFromString("85")}
	monitor := NewMonitorService(db, trackers, predictions, fetcher, testTrackingConfig())

	deal := createTestDeal(t, db, "100")
	threshold := decimal.NewFromInt(90)
	tracker, err := trackers.CreateTracker(context.Background(), CreateTrackerParams{
		DealID:         deal.ID,
		UserID:         uuid.New(),
		ThresholdPrice: &threshold,
		CheckInterval:  60,
	})
	if err != nil {
		t.Fatalf("create tracker failed: %v", err)
	}

	// Freshly created trackers are not due yet; one sweep is a no-op.
	monitor.sweepTrackers(context.Background())
	if fetcher.calls != 0 {
		t.Fatalf("fetcher called %d times for non-due tracker", fetcher.calls)
	}

	// Age the tracker past its interval.
	stale := time.Now().UTC().Add(-2 * time.Minute)
	if err := db.Model(&models.PriceTracker{}).Where("id = ?", tracker.ID).Update("last_check", stale).Error; err != nil {
		t.Fatalf("age tracker failed: %v", err)
	}

	monitor.sweepTrackers(context.Background())
	if fetcher.calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", fetcher.calls)
	}

	var count int64
	if err := db.Model(&models.PricePoint{}).Where("deal_id = ?", deal.ID).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 ingested point, got %d", count)
	}

	// 100 -> 85 crosses the 90 threshold.
	if got := len(notifier.all()); got != 1 {
		t.Fatalf("expected 1 threshold notification, got %d", got)
	}

	// last_check advanced: the tracker is no longer due.
	var reloaded models.PriceTracker
	if err := db.First(&reloaded, "id = ?", tracker.ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Due(time.Now().UTC()) {
		t.Fatal("tracker should not be due right after a sweep")
	}
}

func TestSweepTrackersSkipsFailedFetch(t *testing.T) {
	db := setupTestDB(t)
	trackers := NewTrackerService(db, setupTestRedis(t), nil)
	predictions := newPredictionService(db, t, nil)
	fetcher := &stubFetcher{err: errors.New("marketplace down")}
	monitor := NewMonitorService(db, trackers, predictions, fetcher, testTrackingConfig())

	deal := createTestDeal(t, db, "100")
	tracker, err := trackers.CreateTracker(context.Background(), CreateTrackerParams{
		DealID:        deal.ID,
		UserID:        uuid.New(),
		CheckInterval: 60,
	})
	if err != nil {
		t.Fatalf("create tracker failed: %v", err)
	}
	stale := time.Now().UTC().Add(-2 * time.Minute)
	if err := db.Model(&models.PriceTracker{}).Where("id = ?", tracker.ID).Update("last_check", stale).Error; err != nil {
		t.Fatalf("age tracker failed: %v", err)
	}

	monitor.sweepTrackers(context.Background())

	var count int64
	if err := db.Model(&models.PricePoint{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed fetch must not ingest points, got %d", count)
	}
}

func TestRefreshPredictionsSkipsSparseDeals(t *testing.T) {
	db := setupTestDB(t)
	trackers := NewTrackerService(db, setupTestRedis(t), nil)
	predictions := newPredictionService(db, t, nil)
	monitor := NewMonitorService(db, trackers, predictions, &stubFetcher{}, testTrackingConfig())

	rich := createTestDeal(t, db, "100")
	sparse := createTestDeal(t, db, "50")
	seedHistory(t, db, rich.ID, risingPrices(60))
	seedHistory(t, db, sparse.ID, risingPrices(5))

	for _, deal := range []*models.Deal{rich, sparse} {
		if _, err := trackers.CreateTracker(context.Background(), CreateTrackerParams{
			DealID: deal.ID,
			UserID: uuid.New(),
		}); err != nil {
			t.Fatalf("create tracker failed: %v", err)
		}
	}

	monitor.refreshPredictions(context.Background())

	var richCount, sparseCount int64
	db.Model(&models.PricePrediction{}).Where("deal_id = ?", rich.ID).Count(&richCount)
	db.Model(&models.PricePrediction{}).Where("deal_id = ?", sparse.ID).Count(&sparseCount)
	if richCount != 1 {
		t.Fatalf("expected 1 prediction for rich deal, got %d", richCount)
	}
	if sparseCount != 0 {
		t.Fatalf("sparse deal should be skipped, got %d predictions", sparseCount)
	}
}

func TestCleanupPricePointsHonorsRetention(t *testing.T) {
	db := setupTestDB(t)
	trackers := NewTrackerService(db, setupTestRedis(t), nil)
	predictions := newPredictionService(db, t, nil)
	monitor := NewMonitorService(db, trackers, predictions, &stubFetcher{}, testTrackingConfig())

	deal := createTestDeal(t, db, "100")
	old := models.PricePoint{
		DealID:    deal.ID,
		Price:     decimal.NewFromInt(90),
		Currency:  "USD",
		Source:    "test",
		Timestamp: time.Now().UTC().AddDate(0, 0, -120),
	}
	recent := models.PricePoint{
		DealID:    deal.ID,
		Price:     decimal.NewFromInt(95),
		Currency:  "USD",
		Source:    "test",
		Timestamp: time.Now().UTC().AddDate(0, 0, -5),
	}
	for _, p := range []*models.PricePoint{&old, &recent} {
		if err := db.Create(p).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	monitor.cleanupPricePoints(context.Background())

	var remaining []models.PricePoint
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining point, got %d", len(remaining))
	}
	if remaining[0].ID != recent.ID {
		t.Fatal("wrong point survived cleanup")
	}
}
