/**
 * @description
 * Deal database model.
 * Maps to the 'deals' table in PostgreSQL. A deal is a product a user wants
 * to buy at the right price; it owns its price points, trackers and
 * predictions (cascade delete).
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 * - github.com/shopspring/decimal
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Deal represents a product being watched across marketplaces
type Deal struct {
	ID        uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Title     string          `gorm:"not null" json:"title"`
	URL       string          `gorm:"column:url" json:"url"`
	Source    string          `gorm:"index" json:"source"` // marketplace identifier ("amazon", "ebay", ...)
	ProductID string          `gorm:"column:product_id" json:"product_id"`
	Price     decimal.Decimal `gorm:"type:decimal(12,4)" json:"price"` // latest known price
	Currency  string          `gorm:"size:3;default:'USD'" json:"currency"`
	IsActive  bool            `gorm:"default:true" json:"is_active"`

	PricePoints []PricePoint      `gorm:"foreignKey:DealID;constraint:OnDelete:CASCADE" json:"-"`
	Trackers    []PriceTracker    `gorm:"foreignKey:DealID;constraint:OnDelete:CASCADE" json:"-"`
	Predictions []PricePrediction `gorm:"foreignKey:DealID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Deal to `deals`
func (Deal) TableName() string {
	return "deals"
}

// BeforeCreate ensures UUID is generated if not present
func (d *Deal) BeforeCreate(tx *gorm.DB) (err error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return
}
