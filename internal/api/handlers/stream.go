/**
 * @description
 * WebSocket upgrade handler for the deal stream.
 * Authenticates via a `token` query parameter (the frontend WebSocket API
 * cannot set an Authorization header) and hands the upgraded connection to
 * the hub's read loop.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - github.com/gofiber/websocket/v2
 * - backend/internal/ws
 */

package handlers

import (
	"context"

	"github.com/dealwatch-project/backend/internal/api/middleware"
	dealws "github.com/dealwatch-project/backend/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// StreamUpgrade rejects non-WebSocket requests and authenticates the token
// query parameter before the protocol upgrade happens.
func StreamUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID, err := middleware.ParseToken(c.Query("token"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}
	c.Locals("user_id", userID)
	return c.Next()
}

// StreamHandler returns the upgraded handler that runs the hub connection
// loop until the client disconnects.
func StreamHandler(hub *dealws.Hub) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("user_id").(uuid.UUID)
		if !ok {
			conn.Close()
			return
		}
		hub.HandleConnection(context.Background(), userID, conn)
	})
}
