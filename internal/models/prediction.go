/**
 * @description
 * Price prediction database models.
 * Maps to the 'price_predictions' table in PostgreSQL. Rows are immutable:
 * a newer prediction for the same deal supersedes older ones, it never
 * mutates them.
 *
 * @dependencies
 * - gorm.io/gorm
 * - gorm.io/datatypes
 * - github.com/google/uuid
 */

package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StringArray is a helper type to handle string arrays in Postgres (TEXT[])
type StringArray []string

// Scan implements the sql.Scanner interface
func (a *StringArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		// PostgreSQL returns arrays as strings like "{value1,value2,value3}"
		return a.parsePostgresArray(string(v))
	case string:
		return a.parsePostgresArray(v)
	default:
		return errors.New("type assertion failed for StringArray")
	}
}

// parsePostgresArray parses PostgreSQL array format: {value1,value2,value3}
func (a *StringArray) parsePostgresArray(s string) error {
	if s == "{}" || s == "" {
		*a = []string{}
		return nil
	}

	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	if s == "" {
		*a = []string{}
		return nil
	}

	// Split by comma, handling quoted values
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if len(part) >= 2 && part[0] == '"' && part[len(part)-1] == '"' {
			part = part[1 : len(part)-1]
		}
		result = append(result, part)
	}
	*a = result
	return nil
}

// Value implements the driver.Valuer interface
// Returns PostgreSQL array format: {value1,value2,value3}
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}

	quoted := make([]string, len(a))
	for i, v := range a {
		if strings.ContainsAny(v, `,"\{} `) {
			escaped := strings.ReplaceAll(v, `\`, `\\`)
			escaped = strings.ReplaceAll(escaped, `"`, `\"`)
			quoted[i] = fmt.Sprintf(`"%s"`, escaped)
		} else {
			quoted[i] = v
		}
	}
	return fmt.Sprintf("{%s}", strings.Join(quoted, ",")), nil
}

// PredictionPoint is one forecast day. Invariant: LowerBound <= Price <= UpperBound.
type PredictionPoint struct {
	Date       time.Time `json:"date"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"`
	LowerBound float64   `json:"lower_bound"`
	UpperBound float64   `json:"upper_bound"`
}

// PricePrediction represents one forecaster run for a deal
type PricePrediction struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	DealID              uuid.UUID         `gorm:"type:uuid;index;not null" json:"deal_id"`
	UserID              uuid.UUID         `gorm:"type:uuid;index" json:"user_id"`
	ModelName           string            `gorm:"size:64" json:"model_name"`
	PredictionDays      int               `gorm:"check:prediction_days >= 1 AND prediction_days <= 90" json:"prediction_days"`
	ConfidenceThreshold float64           `json:"confidence_threshold"`
	Predictions         datatypes.JSON    `gorm:"column:predictions" json:"predictions"` // []PredictionPoint
	OverallConfidence   float64           `json:"overall_confidence"`
	TrendDirection      string            `gorm:"size:16" json:"trend_direction"` // "up" | "down"
	TrendStrength       float64           `json:"trend_strength"`
	SeasonalityScore    *float64          `json:"seasonality_score,omitempty"`
	FeaturesUsed        StringArray       `gorm:"column:features_used;type:text[]" json:"features_used"`
	ModelParams         datatypes.JSONMap `gorm:"column:model_params" json:"model_params,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName overrides the table name used by PricePrediction to `price_predictions`
func (PricePrediction) TableName() string {
	return "price_predictions"
}

// BeforeCreate ensures UUID is generated if not present
func (p *PricePrediction) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return
}
