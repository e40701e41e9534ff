package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/dealwatch-project/backend/internal/analysis"
	"github.com/dealwatch-project/backend/internal/forecast"
	"github.com/dealwatch-project/backend/internal/models"
	"github.com/dealwatch-project/backend/internal/services"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func setupApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Deal{}, &models.PricePoint{}, &models.PriceTracker{}, &models.PricePrediction{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	trackers := services.NewTrackerService(db, rdb, nil)
	predictions := services.NewPredictionService(db, rdb, forecast.New(30, 0), analysis.NewAnalyzer(30), nil)
	handler := NewDealHandler(trackers, predictions)

	app := fiber.New()
	app.Get("/api/v1/deals/:id/prices", handler.GetPriceHistory)
	app.Get("/api/v1/deals/:id/predictions", handler.GetPredictions)
	app.Get("/api/v1/deals/:id/analysis", handler.AnalyzeDeal)
	return app, db
}

func TestGetPriceHistoryEndpoint(t *testing.T) {
	app, db := setupApp(t)

	deal := &models.Deal{Title: "Widget", Price: decimal.NewFromInt(100), Currency: "USD", IsActive: true}
	if err := db.Create(deal).Error; err != nil {
		t.Fatalf("create deal failed: %v", err)
	}
	now := time.Now().UTC()
	for i, p := range []int64{95, 92, 88} {
		point := models.PricePoint{
			DealID:    deal.ID,
			Price:     decimal.NewFromInt(p),
			Currency:  "USD",
			Source:    "test",
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&point).Error; err != nil {
			t.Fatalf("create point failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deals/"+deal.ID.String()+"/prices", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	var points []models.PricePoint
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if !points[0].Price.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("first point %s, want 95 (ascending order)", points[0].Price)
	}
}

func TestGetPriceHistoryRejectsBadID(t *testing.T) {
	app, _ := setupApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deals/not-a-uuid/prices", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestAnalyzeDealSparseHistory(t *testing.T) {
	app, db := setupApp(t)

	deal := &models.Deal{Title: "Widget", Price: decimal.NewFromInt(100), Currency: "USD", IsActive: true}
	if err := db.Create(deal).Error; err != nil {
		t.Fatalf("create deal failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deals/"+deal.ID.String()+"/analysis", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422 for insufficient history", resp.StatusCode)
	}
}

func TestGetPredictionsEmpty(t *testing.T) {
	app, db := setupApp(t)

	deal := &models.Deal{Title: "Widget", Price: decimal.NewFromInt(100), Currency: "USD", IsActive: true}
	if err := db.Create(deal).Error; err != nil {
		t.Fatalf("create deal failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deals/"+deal.ID.String()+"/predictions", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	var rows []models.PricePrediction
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no predictions, got %d", len(rows))
	}
}
