/**
 * @description
 * Handlers for market feed WebSocket messages.
 * Defines the tick message schema and forwards decoded ticks into the
 * price ingestion path.
 *
 * @dependencies
 * - encoding/json
 * - github.com/google/uuid
 * - github.com/shopspring/decimal
 */

package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dealwatch-project/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event Types
const (
	EventTypePriceTick = "price_tick"
	EventTypeHeartbeat = "heartbeat"
)

// BaseMessage is used to peek at the event type before full unmarshalling
type BaseMessage struct {
	EventType string `json:"event_type"`
}

// PriceTickMessage is one live price observation from the feed
type PriceTickMessage struct {
	EventType string `json:"event_type"`
	DealID    string `json:"deal_id"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// Ingestor receives decoded price ticks
type Ingestor interface {
	IngestDealPrice(ctx context.Context, dealID uuid.UUID, price decimal.Decimal, currency, source string) (*models.PricePoint, error)
}

// TickHandler decodes feed messages and hands ticks to the ingestor
type TickHandler struct {
	ingestor Ingestor
}

func NewTickHandler(ingestor Ingestor) *TickHandler {
	return &TickHandler{ingestor: ingestor}
}

// HandleMessage routes one raw feed message
func (h *TickHandler) HandleMessage(ctx context.Context, msg []byte) error {
	var base BaseMessage
	if err := json.Unmarshal(msg, &base); err != nil {
		return fmt.Errorf("failed to peek feed message type: %w", err)
	}

	switch base.EventType {
	case EventTypePriceTick:
		return h.handleTick(ctx, msg)
	case EventTypeHeartbeat:
		return nil
	default:
		// Unknown event types are skipped, not errors; the feed adds types
		// without versioning.
		return nil
	}
}

func (h *TickHandler) handleTick(ctx context.Context, msg []byte) error {
	var tick PriceTickMessage
	if err := json.Unmarshal(msg, &tick); err != nil {
		return fmt.Errorf("failed to decode price tick: %w", err)
	}

	dealID, err := uuid.Parse(tick.DealID)
	if err != nil {
		return fmt.Errorf("price tick has invalid deal_id %q: %w", tick.DealID, err)
	}

	price, err := decimal.NewFromString(tick.Price)
	if err != nil {
		return fmt.Errorf("price tick has invalid price %q: %w", tick.Price, err)
	}

	_, err = h.ingestor.IngestDealPrice(ctx, dealID, price, tick.Currency, tick.Source)
	return err
}
