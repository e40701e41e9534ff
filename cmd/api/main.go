/**
 * @description
 * Main entry point for the DealWatch Backend API.
 * Initializes the Fiber web server, loads configuration, runs migrations,
 * sets up routes, and manages the WebSocket hub lifecycle.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: Web framework
 * - github.com/dealwatch-project/backend/internal/config: Config loader
 * - github.com/dealwatch-project/backend/internal/db: Database connections
 * - github.com/dealwatch-project/backend/internal/api: Route setup
 *
 * @notes
 * - Connects to Postgres and Redis on startup.
 * - Sets up basic middleware (CORS, Logger, Recover).
 * - Shuts the hub down before closing the listener so in-flight WebSocket
 *   clients are drained.
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dealwatch-project/backend/internal/api"
	"github.com/dealwatch-project/backend/internal/config"
	"github.com/dealwatch-project/backend/internal/db"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Database Connections
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	if err := db.Migrate(pgDB); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	redisClient, err := db.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// 3. Initialize Fiber App
	app := fiber.New(fiber.Config{
		AppName:       "DealWatch Backend",
		StrictRouting: true,
		CaseSensitive: true,
	})

	// 4. Global Middleware
	app.Use(recover.New()) // Panic recovery
	app.Use(logger.New())  // Request logging
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*", // TODO: Lock this down in production
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// 5. Routes + WebSocket hub
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.SetupRoutes(app, pgDB, redisClient, cfg)
	hub.Run(ctx)

	// 6. Start Server
	go func() {
		log.Printf("🚀 Starting DealWatch Backend on port %s", cfg.Server.Port)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 7. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down API...")
	cancel()
	hub.Shutdown()
	hub.Wait()
	if err := app.Shutdown(); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	log.Println("API exited.")
}
