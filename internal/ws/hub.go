/**
 * @description
 * Live update hub for deal subscriptions.
 * Owns the connection registry (user -> sockets, socket -> deals), pushes
 * snapshots on subscribe, polls stores on background ticks for deltas, and
 * multiplexes Redis pub/sub backplane messages to subscribed sockets so
 * writes from other processes reach clients immediately.
 *
 * The hub is an injected object with its lifecycle owned by the server
 * process; there is no package-level registry state.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 * - backend/internal/models
 */

package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/dealwatch-project/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message envelope types
const (
	TypePriceUpdate      = "price_update"
	TypePredictionUpdate = "prediction_update"
	TypeInitialData      = "initial_data"
	TypePong             = "pong"
	TypeError            = "error"
)

// Envelope is the server-to-client message frame
type Envelope struct {
	Type      string      `json:"type"`
	DealID    string      `json:"deal_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func newEnvelope(typ, dealID string, data interface{}) Envelope {
	return Envelope{
		Type:      typ,
		DealID:    dealID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// PriceSource serves price history reads for snapshots and delta sweeps
type PriceSource interface {
	GetPriceHistory(ctx context.Context, dealID uuid.UUID, limit int) ([]models.PricePoint, error)
	LatestPricePoint(ctx context.Context, dealID uuid.UUID) (*models.PricePoint, error)
}

// PredictionSource serves prediction reads for snapshots and delta sweeps
type PredictionSource interface {
	GetDealPredictions(ctx context.Context, dealID uuid.UUID, skip, limit int) ([]models.PricePrediction, error)
}

// Config tunes hub intervals and backplane channels
type Config struct {
	PriceInterval      time.Duration // poll cadence for price deltas
	PredictionInterval time.Duration // poll cadence for prediction deltas
	Cooldown           time.Duration // per-user broadcast suppression window
	SnapshotLimit      int           // max history points in initial_data
	PriceChannel       string        // Redis backplane channel for price updates
	PredictionChannel  string        // Redis backplane channel for prediction updates
}

func (c *Config) applyDefaults() {
	if c.PriceInterval <= 0 {
		c.PriceInterval = 5 * time.Second
	}
	if c.PredictionInterval <= 0 {
		c.PredictionInterval = time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Second
	}
	if c.SnapshotLimit <= 0 {
		c.SnapshotLimit = 100
	}
}

// Hub is the WebSocket connection registry and broadcaster
type Hub struct {
	prices      PriceSource
	predictions PredictionSource
	redis       *redis.Client
	cfg         Config

	mu        sync.RWMutex
	userConns map[uuid.UUID]map[*Client]struct{}
	dealSubs  map[uuid.UUID]map[*Client]struct{}

	// Delta detection state, touched only by the sweep loops and backplane.
	stateMu          sync.Mutex
	lastPointID      map[uuid.UUID]uint64
	lastPredictionID map[uuid.UUID]uuid.UUID

	// Per-user cooldown bookkeeping.
	cooldownMu sync.Mutex
	lastSent   map[uuid.UUID]time.Time

	wg sync.WaitGroup
}

// NewHub creates a Hub. The redis client may be nil for single-process
// deployments; the polling sweeps still detect changes.
func NewHub(prices PriceSource, predictions PredictionSource, rdb *redis.Client, cfg Config) *Hub {
	cfg.applyDefaults()
	return &Hub{
		prices:           prices,
		predictions:      predictions,
		redis:            rdb,
		cfg:              cfg,
		userConns:        make(map[uuid.UUID]map[*Client]struct{}),
		dealSubs:         make(map[uuid.UUID]map[*Client]struct{}),
		lastPointID:      make(map[uuid.UUID]uint64),
		lastPredictionID: make(map[uuid.UUID]uuid.UUID),
		lastSent:         make(map[uuid.UUID]time.Time),
	}
}

// Run starts the sweep loops and the backplane listener. It returns once
// they are launched; cancel ctx to stop them, then Wait.
func (h *Hub) Run(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.sweepLoop(ctx, h.cfg.PriceInterval, h.sweepPrices)
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.sweepLoop(ctx, h.cfg.PredictionInterval, h.sweepPredictions)
	}()

	if h.redis != nil && h.cfg.PriceChannel != "" {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.backplaneLoop(ctx)
		}()
	}
}

// Wait blocks until background loops exit.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// Shutdown closes every registered connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.userConns {
		for c := range conns {
			c.close()
		}
	}
	h.userConns = make(map[uuid.UUID]map[*Client]struct{})
	h.dealSubs = make(map[uuid.UUID]map[*Client]struct{})
}

func (h *Hub) sweepLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// subscribedDeals snapshots the deals with at least one subscriber.
func (h *Hub) subscribedDeals() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(h.dealSubs))
	for dealID := range h.dealSubs {
		out = append(out, dealID)
	}
	return out
}

// sweepPrices re-fetches the latest point per subscribed deal and pushes a
// delta when it changed since the last sweep.
func (h *Hub) sweepPrices(ctx context.Context) {
	for _, dealID := range h.subscribedDeals() {
		point, err := h.prices.LatestPricePoint(ctx, dealID)
		if err != nil {
			logger.Error("Hub: price sweep failed for deal %s: %v", dealID, err)
			continue
		}
		if point == nil {
			continue
		}

		h.stateMu.Lock()
		changed := h.lastPointID[dealID] != point.ID
		if changed {
			h.lastPointID[dealID] = point.ID
		}
		h.stateMu.Unlock()

		if changed {
			h.broadcastToDeal(dealID, newEnvelope(TypePriceUpdate, dealID.String(), point))
		}
	}
}

// sweepPredictions does the same for the latest prediction row.
func (h *Hub) sweepPredictions(ctx context.Context) {
	for _, dealID := range h.subscribedDeals() {
		rows, err := h.predictions.GetDealPredictions(ctx, dealID, 0, 1)
		if err != nil {
			logger.Error("Hub: prediction sweep failed for deal %s: %v", dealID, err)
			continue
		}
		if len(rows) == 0 {
			continue
		}
		latest := rows[0]

		h.stateMu.Lock()
		changed := h.lastPredictionID[dealID] != latest.ID
		if changed {
			h.lastPredictionID[dealID] = latest.ID
		}
		h.stateMu.Unlock()

		if changed {
			h.broadcastToDeal(dealID, newEnvelope(TypePredictionUpdate, dealID.String(), latest))
		}
	}
}

// backplaneMessage is the cross-process update frame published by services.
type backplaneMessage struct {
	DealID uuid.UUID       `json:"deal_id"`
	Data   json.RawMessage `json:"data"`
}

// backplaneLoop multiplexes Redis pub/sub messages to subscribed sockets
// without a Redis subscription per connection.
func (h *Hub) backplaneLoop(ctx context.Context) {
	channels := []string{h.cfg.PriceChannel}
	if h.cfg.PredictionChannel != "" {
		channels = append(channels, h.cfg.PredictionChannel)
	}

	for {
		pubsub := h.redis.Subscribe(ctx, channels...)
		ch := pubsub.Channel(redis.WithChannelSize(16384))

		for msg := range ch {
			h.handleBackplane(msg.Channel, []byte(msg.Payload))
		}

		_ = pubsub.Close()

		select {
		case <-ctx.Done():
			return
		default:
			// Avoid tight loop if the Redis connection drops
			time.Sleep(time.Second)
		}
	}
}

func (h *Hub) handleBackplane(channel string, payload []byte) {
	var msg backplaneMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Error("Hub: malformed backplane payload on %s: %v", channel, err)
		return
	}

	typ := TypePriceUpdate
	if channel == h.cfg.PredictionChannel {
		typ = TypePredictionUpdate
	}

	// Record what we saw so the next sweep does not re-send the same row.
	if typ == TypePriceUpdate {
		var point models.PricePoint
		if err := json.Unmarshal(msg.Data, &point); err == nil && point.ID != 0 {
			h.stateMu.Lock()
			h.lastPointID[msg.DealID] = point.ID
			h.stateMu.Unlock()
		}
	} else {
		var row models.PricePrediction
		if err := json.Unmarshal(msg.Data, &row); err == nil && row.ID != uuid.Nil {
			h.stateMu.Lock()
			h.lastPredictionID[msg.DealID] = row.ID
			h.stateMu.Unlock()
		}
	}

	h.broadcastToDeal(msg.DealID, newEnvelope(typ, msg.DealID.String(), json.RawMessage(msg.Data)))
}

// broadcastToDeal delivers an update to every subscriber of the deal,
// suppressing users inside their cooldown window so rapid repeats collapse.
// Clients must treat the latest received message as authoritative.
func (h *Hub) broadcastToDeal(dealID uuid.UUID, env Envelope) {
	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.dealSubs[dealID]))
	for c := range h.dealSubs[dealID] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	now := time.Now()
	for _, c := range subscribers {
		h.cooldownMu.Lock()
		last, ok := h.lastSent[c.userID]
		if ok && now.Sub(last) < h.cfg.Cooldown {
			h.cooldownMu.Unlock()
			continue
		}
		h.lastSent[c.userID] = now
		h.cooldownMu.Unlock()

		if err := c.send(env); err != nil {
			logger.Error("Hub: broadcast to user %s failed: %v", c.userID, err)
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.userConns[c.userID] == nil {
		h.userConns[c.userID] = make(map[*Client]struct{})
	}
	h.userConns[c.userID][c] = struct{}{}
}

// unregister drops the connection and any orphaned deal subscriptions.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.userConns[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.userConns, c.userID)
		}
	}
	for dealID := range c.deals {
		if subs, ok := h.dealSubs[dealID]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.dealSubs, dealID)
			}
		}
	}
}

// subscribe registers the client's interest and sends the initial snapshot.
func (h *Hub) subscribe(ctx context.Context, c *Client, dealID uuid.UUID) error {
	h.mu.Lock()
	if h.dealSubs[dealID] == nil {
		h.dealSubs[dealID] = make(map[*Client]struct{})
	}
	h.dealSubs[dealID][c] = struct{}{}
	c.deals[dealID] = struct{}{}
	h.mu.Unlock()

	history, err := h.prices.GetPriceHistory(ctx, dealID, h.cfg.SnapshotLimit)
	if err != nil {
		return err
	}
	predictions, err := h.predictions.GetDealPredictions(ctx, dealID, 0, 1)
	if err != nil {
		return err
	}

	// Empty lists, never null: a deal without history is a valid subscription.
	if history == nil {
		history = []models.PricePoint{}
	}
	if predictions == nil {
		predictions = []models.PricePrediction{}
	}

	return c.send(newEnvelope(TypeInitialData, dealID.String(), map[string]interface{}{
		"price_history": history,
		"predictions":   predictions,
	}))
}

func (h *Hub) unsubscribe(c *Client, dealID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.deals, dealID)
	if subs, ok := h.dealSubs[dealID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.dealSubs, dealID)
		}
	}
}
