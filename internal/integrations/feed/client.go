/**
 * @description
 * WebSocket client for the live market price feed.
 * Manages the persistent connection, deal subscriptions, and keep-alive logic.
 *
 * Key features:
 * - Automatic reconnection with exponential backoff.
 * - Resubscribes the current deal set after a reconnect.
 * - Thread-safe writing.
 *
 * @dependencies
 * - github.com/gorilla/websocket
 * - backend/internal/config
 */

package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dealwatch-project/backend/internal/config"
	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	WriteWait         = 10 * time.Second
	PongWait          = 60 * time.Second
	PingPeriod        = (PongWait * 9) / 10
	MaxConnectRetries = 5
)

// SubscriptionMessage registers interest in a set of deals with the feed
type SubscriptionMessage struct {
	Type    string   `json:"type"` // "subscribe"
	DealIDs []string `json:"deal_ids"`
}

type Client struct {
	url     string
	conn    *websocket.Conn
	mu      sync.Mutex
	done    chan struct{}
	handler *TickHandler

	// subscriptions holds the current list of deal IDs to track
	subscriptions []string
	subMu         sync.Mutex

	// reconnecting prevents multiple simultaneous reconnection attempts
	reconnecting bool
	reconnectMu  sync.Mutex
}

func NewClient(cfg *config.Config, handler *TickHandler) *Client {
	return &Client{
		url:     cfg.Market.FeedURL,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read loop
func (c *Client) Connect(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("market feed URL is not configured")
	}
	return c.connectWithRetry(ctx)
}

func (c *Client) connectWithRetry(ctx context.Context) error {
	var err error
	backoff := 1 * time.Second

	for i := 0; i < MaxConnectRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("client closed")
		default:
		}

		logger.Info("Connecting to market feed: %s (attempt %d)", c.url, i+1)
		c.conn, _, err = websocket.DefaultDialer.Dial(c.url, nil)
		if err == nil {
			logger.Info("✅ Connected to market feed")

			// Resubscribe if we have existing subscriptions (reconnection scenario)
			c.subMu.Lock()
			if len(c.subscriptions) > 0 {
				go c.sendSubscribe(c.subscriptions)
			}
			c.subMu.Unlock()

			go c.readLoop(ctx)
			go c.pingLoop(ctx)
			return nil
		}

		logger.Error("Failed to connect to feed: %v. Retrying in %v...", err, backoff)
		time.Sleep(backoff)
		backoff *= 2
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", MaxConnectRetries, err)
}

// Subscribe replaces the tracked deal list and sends the subscription
// message. The sync loop passes the full set each time, so replacing keeps
// the resubscribe list from growing with duplicates.
func (c *Client) Subscribe(dealIDs []string) error {
	c.subMu.Lock()
	c.subscriptions = append([]string(nil), dealIDs...)
	c.subMu.Unlock()

	return c.sendSubscribe(dealIDs)
}

func (c *Client) sendSubscribe(dealIDs []string) error {
	msg := SubscriptionMessage{
		Type:    "subscribe",
		DealIDs: dealIDs,
	}
	return c.WriteJSON(msg)
}

// WriteJSON sends a JSON message to the websocket thread-safely
func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return c.conn.WriteJSON(v)
}

// Close gracefully closes the connection
func (c *Client) Close() error {
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()

		// Trigger reconnection if context is not done and client is not closed
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
			c.reconnectMu.Lock()
			if !c.reconnecting {
				c.reconnecting = true
				c.reconnectMu.Unlock()
				logger.Info("Feed connection lost, reconnecting...")
				go func() {
					defer func() {
						c.reconnectMu.Lock()
						c.reconnecting = false
						c.reconnectMu.Unlock()
					}()
					if err := c.connectWithRetry(ctx); err != nil {
						logger.Error("Feed reconnection failed: %v", err)
					}
				}()
			} else {
				c.reconnectMu.Unlock()
			}
		}
	}()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	conn.SetReadLimit(1024 * 1024) // 1MB limit; ticks are tiny
	conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Error("Feed read error: %v", err)
				}
				return
			}

			// Async process to not block reader
			go func(msg []byte) {
				if err := c.handler.HandleMessage(ctx, msg); err != nil {
					logger.Error("Error handling feed message: %v", err)
				}
			}(message)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn == nil {
				c.mu.Unlock()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}
