/**
 * @description
 * Price tracker database model.
 * Maps to the 'price_trackers' table in PostgreSQL. One row per (deal, user)
 * tracking relationship; the worker sweeps active trackers on their
 * check_interval and the tracker service evaluates threshold crossings on
 * every appended price point.
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
	"gorm.io/gorm"
)

// MinCheckInterval is the floor for tracker polling, in seconds.
const MinCheckInterval = 60

// PriceTracker represents a user's tracking relationship with a deal
type PriceTracker struct {
	ID             uuid.UUID        `gorm:"type:uuid;primary_key" json:"id"`
	DealID         uuid.UUID        `gorm:"type:uuid;index;not null" json:"deal_id"`
	UserID         uuid.UUID        `gorm:"type:uuid;index;not null" json:"user_id"`
	InitialPrice   decimal.Decimal  `gorm:"type:decimal(12,4)" json:"initial_price"` // fixed at creation
	ThresholdPrice *decimal.Decimal `gorm:"type:decimal(12,4)" json:"threshold_price,omitempty"`
	CheckInterval  int              `gorm:"default:300;check:check_interval >= 60" json:"check_interval"` // seconds
	LastCheck      time.Time        `gorm:"column:last_check" json:"last_check"`
	IsActive       bool             `gorm:"default:true;index" json:"is_active"`

	NotificationSettings datatypes.JSONMap `gorm:"column:notification_settings" json:"notification_settings,omitempty"`
	Meta                 datatypes.JSONMap `gorm:"column:meta" json:"meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by PriceTracker to `price_trackers`
func (PriceTracker) TableName() string {
	return "price_trackers"
}

// BeforeCreate ensures UUID is generated if not present
func (t *PriceTracker) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}

// Due reports whether the tracker's check interval has elapsed since LastCheck.
func (t *PriceTracker) Due(now time.Time) bool {
	return t.IsActive && now.Sub(t.LastCheck) >= time.Duration(t.CheckInterval)*time.Second
}
