/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/api/middleware
 * - backend/internal/services
 * - backend/internal/ws
 */

package api

import (
	"log"

	"github.com/dealwatch-project/backend/internal/analysis"
	"github.com/dealwatch-project/backend/internal/api/handlers"
	"github.com/dealwatch-project/backend/internal/api/middleware"
	"github.com/dealwatch-project/backend/internal/config"
	"github.com/dealwatch-project/backend/internal/forecast"
	"github.com/dealwatch-project/backend/internal/services"
	dealws "github.com/dealwatch-project/backend/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SetupRoutes configures all API routes and returns the WebSocket hub so the
// caller can manage its lifecycle.
func SetupRoutes(app *fiber.App, db *gorm.DB, rdb *redis.Client, cfg *config.Config) *dealws.Hub {
	// 1. Initialize Middleware
	if err := middleware.InitAuthMiddleware(cfg); err != nil {
		log.Printf("Failed to init auth middleware: %v", err)
		// We don't panic here to allow app to start in dev modes without a
		// secret, but protected routes will fail.
	}

	// 2. Initialize Services
	notifier := services.NewRedisNotifier(rdb, services.NotificationChannel)
	trackerService := services.NewTrackerService(db, rdb, notifier)
	forecaster := forecast.New(cfg.Tracking.MinHistoryPoints, cfg.Tracking.FitTimeout)
	analyzer := analysis.NewAnalyzer(cfg.Tracking.MinHistoryPoints)
	predictionService := services.NewPredictionService(db, rdb, forecaster, analyzer, notifier)

	hub := dealws.NewHub(trackerService, predictionService, rdb, dealws.Config{
		PriceChannel:      services.PriceUpdateChannel,
		PredictionChannel: services.PredictionUpdateChannel,
	})

	// 3. Initialize Handlers
	dealHandler := handlers.NewDealHandler(trackerService, predictionService)

	// 4. Define Routes
	root := app.Group("/api")
	v1 := root.Group("/v1")

	// Public Routes
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Deal Analytics Routes (Public)
	deals := v1.Group("/deals")
	deals.Get("/:id/prices", dealHandler.GetPriceHistory)
	deals.Get("/:id/predictions", dealHandler.GetPredictions)
	deals.Get("/:id/analysis", dealHandler.AnalyzeDeal)

	// Tracker Routes (Protected)
	trackers := v1.Group("/trackers", middleware.Protected())
	trackers.Get("/:id/stats", dealHandler.GetTrackerStats)

	// WebSocket stream (token auth via query param)
	app.Get("/ws/deals", handlers.StreamUpgrade, handlers.StreamHandler(hub))

	return hub
}
