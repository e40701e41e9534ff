/**
 * @description
 * Configuration loader for the DealWatch backend.
 * Responsible for reading environment variables, setting defaults, and performing strict validation.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os": For reading env vars
 * - standard "fmt": For error reporting
 *
 * @notes
 * - Fails fast if DATABASE_URL is missing.
 * - Uses a Singleton-like pattern where Load() returns a Config struct.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Market   MarketConfig
	Tracking TrackingConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development", "staging" or "production"
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string
}

// AuthConfig holds JWT settings for the thin auth middleware
type AuthConfig struct {
	JWTSecret string
}

// MarketConfig holds external market data endpoints
type MarketConfig struct {
	APIURL  string // REST API serving current prices and history
	FeedURL string // WebSocket price tick feed
}

// TrackingConfig holds knobs for the price tracking/prediction core
type TrackingConfig struct {
	MinHistoryPoints   int           // minimum points before analysis/forecast runs
	CheckSweepInterval time.Duration // how often the worker sweeps due trackers
	PredictionRefresh  time.Duration // how often predictions are regenerated
	CleanupInterval    time.Duration // how often old price points are purged
	RetentionDays      int           // price point retention window
	FitTimeout         time.Duration // hard deadline on model fitting
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (prod might inject env vars directly)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Market: MarketConfig{
			APIURL:  getEnv("MARKET_API_URL", "https://api.dealwatch.dev/market"),
			FeedURL: getEnv("MARKET_FEED_URL", ""),
		},
		Tracking: TrackingConfig{
			MinHistoryPoints:   getEnvAsInt("TRACKING_MIN_HISTORY_POINTS", 30),
			CheckSweepInterval: getEnvAsDuration("TRACKING_CHECK_SWEEP_INTERVAL", time.Minute),
			PredictionRefresh:  getEnvAsDuration("TRACKING_PREDICTION_REFRESH", time.Hour),
			CleanupInterval:    getEnvAsDuration("TRACKING_CLEANUP_INTERVAL", 24*time.Hour),
			RetentionDays:      getEnvAsInt("TRACKING_RETENTION_DAYS", 90),
			FitTimeout:         getEnvAsDuration("TRACKING_FIT_TIMEOUT", 30*time.Second),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks for required variables
func validate(cfg *Config) error {
	if cfg.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" && cfg.Server.Env != "test" {
		// Warning: strictly required for the auth middleware
		fmt.Println("Warning: JWT_SECRET is missing. Auth middleware will reject all tokens.")
	}
	if cfg.Tracking.MinHistoryPoints < 2 {
		return fmt.Errorf("TRACKING_MIN_HISTORY_POINTS must be at least 2")
	}
	return nil
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper to get env var as int
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// Helper to get env var as duration ("30s", "5m", "1h")
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
