/**
 * @description
 * Per-connection read loop and message handling for the live update hub.
 * Malformed or failing client messages get an error reply on the same
 * socket; only read/IO errors terminate the connection.
 *
 * @dependencies
 * - backend/internal/ws (hub)
 * - github.com/google/uuid
 */

package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// socket is the minimal transport contract the hub needs. Satisfied by
// *websocket.Conn; tests substitute an in-memory stub.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// clientMessage is the client-to-server frame
type clientMessage struct {
	Type   string `json:"type"` // "subscribe" | "unsubscribe" | "ping"
	DealID string `json:"deal_id,omitempty"`
}

// Client is one registered WebSocket connection
type Client struct {
	hub    *Hub
	conn   socket
	userID uuid.UUID

	writeMu sync.Mutex
	deals   map[uuid.UUID]struct{} // guarded by hub.mu
}

// HandleConnection registers the socket and serves it until the client
// disconnects or an IO error occurs. Blocks; call from the connection
// handler goroutine.
func (h *Hub) HandleConnection(ctx context.Context, userID uuid.UUID, conn socket) {
	c := &Client{
		hub:    h,
		conn:   conn,
		userID: userID,
		deals:  make(map[uuid.UUID]struct{}),
	}

	h.register(c)
	defer func() {
		h.unregister(c)
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(ctx, payload)
	}
}

// handleMessage processes one client frame. Errors are reported back over
// the socket; the connection stays open.
func (c *Client) handleMessage(ctx context.Context, payload []byte) {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.sendError("invalid message: not valid JSON")
		return
	}

	switch msg.Type {
	case "subscribe":
		dealID, err := uuid.Parse(msg.DealID)
		if err != nil {
			c.sendError("invalid deal_id")
			return
		}
		if err := c.hub.subscribe(ctx, c, dealID); err != nil {
			c.sendError("subscription failed: " + err.Error())
		}
	case "unsubscribe":
		dealID, err := uuid.Parse(msg.DealID)
		if err != nil {
			c.sendError("invalid deal_id")
			return
		}
		c.hub.unsubscribe(c, dealID)
	case "ping":
		_ = c.send(newEnvelope(TypePong, "", nil))
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// send writes one envelope thread-safely.
func (c *Client) send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *Client) sendError(message string) {
	env := newEnvelope(TypeError, "", nil)
	env.Message = message
	_ = c.send(env)
}

func (c *Client) close() {
	_ = c.conn.Close()
}
