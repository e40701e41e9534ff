/**
 * @description
 * Worker Service Entry Point.
 * Responsible for background tasks:
 * 1. Ingesting real-time price ticks from the market feed via WebSocket.
 * 2. Sweeping due trackers and refreshing predictions on schedule.
 * 3. Syncing feed subscriptions against the set of actively tracked deals.
 *
 * @dependencies
 * - backend/internal/config
 * - backend/internal/db
 * - backend/internal/integrations/feed
 * - backend/internal/integrations/market
 * - backend/internal/services
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dealwatch-project/backend/internal/analysis"
	"github.com/dealwatch-project/backend/internal/config"
	"github.com/dealwatch-project/backend/internal/db"
	"github.com/dealwatch-project/backend/internal/forecast"
	"github.com/dealwatch-project/backend/internal/integrations/feed"
	"github.com/dealwatch-project/backend/internal/integrations/market"
	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/dealwatch-project/backend/internal/services"
)

func main() {
	logger.Info("🔥 Starting DealWatch Worker...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// 2. Connect DBs
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Postgres connection failed: %v", err)
	}
	if err := db.Migrate(pgDB); err != nil {
		logger.Fatal("Schema migration failed: %v", err)
	}

	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal("Redis connection failed: %v", err)
	}

	// 3. Initialize Services
	notifier := services.NewRedisNotifier(redisClient, services.NotificationChannel)
	trackerService := services.NewTrackerService(pgDB, redisClient, notifier)
	forecaster := forecast.New(cfg.Tracking.MinHistoryPoints, cfg.Tracking.FitTimeout)
	analyzer := analysis.NewAnalyzer(cfg.Tracking.MinHistoryPoints)
	predictionService := services.NewPredictionService(pgDB, redisClient, forecaster, analyzer, notifier)
	marketClient := market.NewClient(cfg)
	monitor := services.NewMonitorService(pgDB, trackerService, predictionService, marketClient, cfg.Tracking)

	tickHandler := feed.NewTickHandler(trackerService)
	feedClient := feed.NewClient(cfg, tickHandler)

	// 4. Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Background Loops
	monitor.Start(ctx)

	// 6. Connect Feed WebSocket
	if cfg.Market.FeedURL != "" {
		go func() {
			if err := feedClient.Connect(ctx); err != nil {
				logger.Error("❌ Feed client failed: %v", err)
			}
		}()

		// Subscription Loop
		// Periodically resubscribes so newly tracked deals start streaming.
		go func() {
			ticker := time.NewTicker(2 * time.Minute)
			defer ticker.Stop()

			// Initial sync
			syncSubscriptions(ctx, trackerService, feedClient)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					syncSubscriptions(ctx, trackerService, feedClient)
				}
			}
		}()
	} else {
		logger.Info("MARKET_FEED_URL not set, relying on tracker sweeps only")
	}

	// 7. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	monitor.Wait()

	if err := feedClient.Close(); err != nil {
		logger.Error("Error closing feed connection: %v", err)
	}
	logger.Info("Worker exited.")
}

// syncSubscriptions resubscribes the feed to every deal with an active tracker
func syncSubscriptions(ctx context.Context, ts *services.TrackerService, fc *feed.Client) {
	logger.Info("🔄 Syncing feed subscriptions...")

	ids, err := ts.ActiveDealIDs(ctx)
	if err != nil {
		logger.Error("Failed to list tracked deals: %v", err)
		return
	}
	if len(ids) == 0 {
		logger.Info("No deals to subscribe to.")
		return
	}

	dealIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		dealIDs = append(dealIDs, id.String())
	}

	logger.Info("Subscribing to %d deals...", len(dealIDs))
	if err := fc.Subscribe(dealIDs); err != nil {
		logger.Error("Failed to subscribe: %v", err)
	}
}
