/**
 * @description
 * Price point database model.
 * Maps to the 'price_points' table in PostgreSQL. Append-only time series:
 * rows are never updated after insert, and consumers must sort by timestamp
 * before analysis because concurrent writers give no global ordering.
 *
 * @dependencies
 * - gorm.io/gorm
 * - gorm.io/datatypes
 * - github.com/shopspring/decimal
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PricePoint represents a single observed price for a deal
type PricePoint struct {
	ID        uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	DealID    uuid.UUID         `gorm:"type:uuid;index:idx_price_points_deal_time" json:"deal_id"`
	Price     decimal.Decimal   `gorm:"type:decimal(12,4)" json:"price"`
	Currency  string            `gorm:"size:3;default:'USD'" json:"currency"`
	Source    string            `gorm:"column:source" json:"source"`
	Timestamp time.Time         `gorm:"column:timestamp;index:idx_price_points_deal_time" json:"timestamp"`
	Meta      datatypes.JSONMap `gorm:"column:meta" json:"meta,omitempty"`
}

// TableName overrides the table name used by PricePoint to `price_points`
func (PricePoint) TableName() string {
	return "price_points"
}

// PriceStatistics is derived on demand from a tracker's price history.
// Never persisted.
type PriceStatistics struct {
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	MedianPrice decimal.Decimal `json:"median_price"`
	Volatility  float64         `json:"volatility"` // mean absolute period-over-period return
	TotalPoints int             `json:"total_points"`
	TimeRange   time.Duration   `json:"time_range"`
	LastUpdate  time.Time       `json:"last_update"`
	Trend       string          `json:"trend"` // "increasing" | "decreasing" | "stable"
}
