package feed

import (
	"context"
	"testing"

	"github.com/dealwatch-project/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type captureIngestor struct {
	dealIDs []uuid.UUID
	prices  []decimal.Decimal
	sources []string
}

func (c *captureIngestor) IngestDealPrice(_ context.Context, dealID uuid.UUID, price decimal.Decimal, _ string, source string) (*models.PricePoint, error) {
	c.dealIDs = append(c.dealIDs, dealID)
	c.prices = append(c.prices, price)
	c.sources = append(c.sources, source)
	return &models.PricePoint{DealID: dealID, Price: price}, nil
}

func TestHandleMessagePriceTick(t *testing.T) {
	ingestor := &captureIngestor{}
	handler := NewTickHandler(ingestor)
	dealID := uuid.New()

	msg := `{"event_type":"price_tick","deal_id":"` + dealID.String() + `","price":"79.99","currency":"USD","source":"amazon"}`
	if err := handler.HandleMessage(context.Background(), []byte(msg)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if len(ingestor.dealIDs) != 1 {
		t.Fatalf("expected 1 ingest, got %d", len(ingestor.dealIDs))
	}
	if ingestor.dealIDs[0] != dealID {
		t.Fatalf("deal id %s, want %s", ingestor.dealIDs[0], dealID)
	}
	if !ingestor.prices[0].Equal(decimal.RequireFromString("79.99")) {
		t.Fatalf("price %s, want 79.99", ingestor.prices[0])
	}
	if ingestor.sources[0] != "amazon" {
		t.Fatalf("source %q, want amazon", ingestor.sources[0])
	}
}

func TestHandleMessageSkipsNonTicks(t *testing.T) {
	ingestor := &captureIngestor{}
	handler := NewTickHandler(ingestor)

	for _, msg := range []string{
		`{"event_type":"heartbeat"}`,
		`{"event_type":"promo_started","deal_id":"x"}`,
	} {
		if err := handler.HandleMessage(context.Background(), []byte(msg)); err != nil {
			t.Fatalf("message %s should be skipped, got error: %v", msg, err)
		}
	}
	if len(ingestor.dealIDs) != 0 {
		t.Fatalf("non-tick messages must not ingest, got %d", len(ingestor.dealIDs))
	}
}

func TestHandleMessageRejectsMalformedTicks(t *testing.T) {
	ingestor := &captureIngestor{}
	handler := NewTickHandler(ingestor)

	cases := []string{
		`not json`,
		`{"event_type":"price_tick","deal_id":"not-a-uuid","price":"10"}`,
		`{"event_type":"price_tick","deal_id":"` + uuid.New().String() + `","price":"ten dollars"}`,
	}
	for _, msg := range cases {
		if err := handler.HandleMessage(context.Background(), []byte(msg)); err == nil {
			t.Fatalf("expected error for %s", msg)
		}
	}
	if len(ingestor.dealIDs) != 0 {
		t.Fatalf("malformed ticks must not ingest, got %d", len(ingestor.dealIDs))
	}
}
