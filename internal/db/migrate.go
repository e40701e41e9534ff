/**
 * @description
 * Schema migration for the core tables.
 * Uses GORM AutoMigrate so the api and worker binaries can bring a fresh
 * database up to date on boot.
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/models
 */

package db

import (
	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/dealwatch-project/backend/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the tables for all core models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Deal{},
		&models.PricePoint{},
		&models.PriceTracker{},
		&models.PricePrediction{},
	); err != nil {
		return err
	}
	logger.Info("✅ Database schema up to date")
	return nil
}
