package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dealwatch-project/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeSocket is an in-memory socket for exercising the hub without a
// network listener.
type fakeSocket struct {
	inbound  chan []byte
	outbound chan Envelope
	closed   chan struct{}
	once     sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound:  make(chan []byte, 16),
		outbound: make(chan Envelope, 16),
		closed:   make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-s.inbound:
		return 1, msg, nil
	case <-s.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (s *fakeSocket) WriteJSON(v interface{}) error {
	env, ok := v.(Envelope)
	if !ok {
		return fmt.Errorf("unexpected write type %T", v)
	}
	select {
	case s.outbound <- env:
		return nil
	default:
		return errors.New("outbound buffer full")
	}
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) sendFrame(t *testing.T, frame string) {
	t.Helper()
	select {
	case s.inbound <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatal("timed out sending frame")
	}
}

func (s *fakeSocket) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-s.outbound:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func (s *fakeSocket) expectNone(t *testing.T) {
	t.Helper()
	select {
	case env := <-s.outbound:
		t.Fatalf("unexpected envelope: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

type stubPrices struct {
	mu      sync.Mutex
	history []models.PricePoint
	latest  *models.PricePoint
}

func (s *stubPrices) GetPriceHistory(context.Context, uuid.UUID, int) ([]models.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, nil
}

func (s *stubPrices) LatestPricePoint(context.Context, uuid.UUID) (*models.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

func (s *stubPrices) setLatest(p *models.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = p
}

type stubPredictions struct {
	mu   sync.Mutex
	rows []models.PricePrediction
}

func (s *stubPredictions) GetDealPredictions(context.Context, uuid.UUID, int, int) ([]models.PricePrediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, nil
}

func (s *stubPredictions) setRows(rows []models.PricePrediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

func startConnection(t *testing.T, h *Hub, sock *fakeSocket) (uuid.UUID, func()) {
	t.Helper()
	userID := uuid.New()
	done := make(chan struct{})
	go func() {
		h.HandleConnection(context.Background(), userID, sock)
		close(done)
	}()
	stop := func() {
		sock.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("connection goroutine did not exit")
		}
	}
	return userID, stop
}

func subscribeFrame(dealID uuid.UUID) string {
	return fmt.Sprintf(`{"type":"subscribe","deal_id":"%s"}`, dealID)
}

func TestSubscribeSendsSnapshotWithEmptyLists(t *testing.T) {
	prices := &stubPrices{}
	predictions := &stubPredictions{}
	h := NewHub(prices, predictions, nil, Config{})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)
	defer stop()

	dealID := uuid.New()
	sock.sendFrame(t, subscribeFrame(dealID))

	env := sock.next(t)
	if env.Type != TypeInitialData {
		t.Fatalf("type %q, want %q", env.Type, TypeInitialData)
	}
	if env.DealID != dealID.String() {
		t.Fatalf("deal id %q, want %q", env.DealID, dealID)
	}

	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape %T", env.Data)
	}
	history, ok := data["price_history"].([]models.PricePoint)
	if !ok || history == nil {
		t.Fatalf("price_history should be an empty slice, got %#v", data["price_history"])
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d points", len(history))
	}
	rows, ok := data["predictions"].([]models.PricePrediction)
	if !ok || rows == nil {
		t.Fatalf("predictions should be an empty slice, got %#v", data["predictions"])
	}
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	h := NewHub(&stubPrices{}, &stubPredictions{}, nil, Config{})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)
	defer stop()

	sock.sendFrame(t, "{not json")
	env := sock.next(t)
	if env.Type != TypeError {
		t.Fatalf("type %q, want %q", env.Type, TypeError)
	}
	if env.Message == "" {
		t.Fatal("error envelope should carry a message")
	}

	// The connection still serves pings afterwards.
	sock.sendFrame(t, `{"type":"ping"}`)
	if env := sock.next(t); env.Type != TypePong {
		t.Fatalf("type %q, want %q", env.Type, TypePong)
	}

	// Unknown types are reported, not fatal.
	sock.sendFrame(t, `{"type":"upgrade"}`)
	if env := sock.next(t); env.Type != TypeError {
		t.Fatalf("type %q, want %q", env.Type, TypeError)
	}
}

func TestInvalidDealIDRejected(t *testing.T) {
	h := NewHub(&stubPrices{}, &stubPredictions{}, nil, Config{})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)
	defer stop()

	sock.sendFrame(t, `{"type":"subscribe","deal_id":"not-a-uuid"}`)
	if env := sock.next(t); env.Type != TypeError {
		t.Fatalf("type %q, want %q", env.Type, TypeError)
	}
}

func TestPriceSweepBroadcastsOnlyDeltas(t *testing.T) {
	prices := &stubPrices{}
	h := NewHub(prices, &stubPredictions{}, nil, Config{Cooldown: time.Nanosecond})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)
	defer stop()

	dealID := uuid.New()
	sock.sendFrame(t, subscribeFrame(dealID))
	sock.next(t) // snapshot

	prices.setLatest(&models.PricePoint{ID: 1, DealID: dealID, Price: decimal.NewFromInt(99)})
	h.sweepPrices(context.Background())

	env := sock.next(t)
	if env.Type != TypePriceUpdate {
		t.Fatalf("type %q, want %q", env.Type, TypePriceUpdate)
	}

	// Unchanged latest point: no re-broadcast.
	h.sweepPrices(context.Background())
	sock.expectNone(t)

	// A new point is a delta again.
	prices.setLatest(&models.PricePoint{ID: 2, DealID: dealID, Price: decimal.NewFromInt(95)})
	h.sweepPrices(context.Background())
	if env := sock.next(t); env.Type != TypePriceUpdate {
		t.Fatalf("type %q, want %q", env.Type, TypePriceUpdate)
	}
}

func TestPredictionSweepBroadcastsDelta(t *testing.T) {
	predictions := &stubPredictions{}
	h := NewHub(&stubPrices{}, predictions, nil, Config{Cooldown: time.Nanosecond})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)
	defer stop()

	dealID := uuid.New()
	sock.sendFrame(t, subscribeFrame(dealID))
	sock.next(t) // snapshot

	predictions.setRows([]models.PricePrediction{{ID: uuid.New(), DealID: dealID}})
	h.sweepPredictions(context.Background())

	if env := sock.next(t); env.Type != TypePredictionUpdate {
		t.Fatalf("type %q, want %q", env.Type, TypePredictionUpdate)
	}

	h.sweepPredictions(context.Background())
	sock.expectNone(t)
}

func TestBroadcastCooldownSuppressesRepeats(t *testing.T) {
	prices := &stubPrices{}
	h := NewHub(prices, &stubPredictions{}, nil, Config{Cooldown: time.Hour})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)
	defer stop()

	dealID := uuid.New()
	sock.sendFrame(t, subscribeFrame(dealID))
	sock.next(t) // snapshot

	prices.setLatest(&models.PricePoint{ID: 1, DealID: dealID})
	h.sweepPrices(context.Background())
	sock.next(t) // first delta delivered

	prices.setLatest(&models.PricePoint{ID: 2, DealID: dealID})
	h.sweepPrices(context.Background())
	sock.expectNone(t) // inside the cooldown window
}

func TestUnsubscribeStopsUpdates(t *testing.T) {
	prices := &stubPrices{}
	h := NewHub(prices, &stubPredictions{}, nil, Config{Cooldown: time.Nanosecond})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)
	defer stop()

	dealID := uuid.New()
	sock.sendFrame(t, subscribeFrame(dealID))
	sock.next(t) // snapshot

	sock.sendFrame(t, fmt.Sprintf(`{"type":"unsubscribe","deal_id":"%s"}`, dealID))
	sock.sendFrame(t, `{"type":"ping"}`)
	sock.next(t) // pong confirms the unsubscribe was processed

	prices.setLatest(&models.PricePoint{ID: 1, DealID: dealID})
	h.sweepPrices(context.Background())
	sock.expectNone(t)

	if deals := h.subscribedDeals(); len(deals) != 0 {
		t.Fatalf("expected no subscribed deals, got %v", deals)
	}
}

func TestDisconnectCleansUpSubscriptions(t *testing.T) {
	h := NewHub(&stubPrices{}, &stubPredictions{}, nil, Config{})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)

	dealID := uuid.New()
	sock.sendFrame(t, subscribeFrame(dealID))
	sock.next(t) // snapshot

	stop()

	if deals := h.subscribedDeals(); len(deals) != 0 {
		t.Fatalf("expected subscriptions cleaned on disconnect, got %v", deals)
	}
}

func TestBackplaneDedupesAgainstSweep(t *testing.T) {
	prices := &stubPrices{}
	h := NewHub(prices, &stubPredictions{}, nil, Config{
		Cooldown:     time.Nanosecond,
		PriceChannel: "deals:price_updates",
	})
	sock := newFakeSocket()
	_, stop := startConnection(t, h, sock)
	defer stop()

	dealID := uuid.New()
	sock.sendFrame(t, subscribeFrame(dealID))
	sock.next(t) // snapshot

	point := models.PricePoint{ID: 7, DealID: dealID, Price: decimal.NewFromInt(42)}
	raw, err := json.Marshal(map[string]interface{}{"deal_id": dealID, "data": point})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	h.handleBackplane("deals:price_updates", raw)

	if env := sock.next(t); env.Type != TypePriceUpdate {
		t.Fatalf("type %q, want %q", env.Type, TypePriceUpdate)
	}

	// The sweep must not re-send the point the backplane already delivered.
	prices.setLatest(&point)
	h.sweepPrices(context.Background())
	sock.expectNone(t)
}
