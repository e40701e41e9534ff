/**
 * @description
 * Authentication middleware using HS256 JWTs.
 * Account management lives in a separate service; this middleware only
 * validates tokens it issued and extracts the user ID.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: HTTP Context
 * - github.com/golang-jwt/jwt/v5: JWT parsing
 */

package middleware

import (
	"errors"
	"strings"

	"github.com/dealwatch-project/backend/internal/config"
	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtSecret []byte

// InitAuthMiddleware stores the signing secret. Should be called at startup.
func InitAuthMiddleware(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		// In dev/test, we might not have this, but it's required for real auth
		logger.Info("⚠️ Warning: JWT_SECRET is empty. Auth validation will fail if not mocked.")
		return nil
	}
	jwtSecret = []byte(cfg.Auth.JWTSecret)
	logger.Info("✅ Auth Middleware Initialized")
	return nil
}

// ParseToken validates a token string and returns the user ID from its
// subject claim. Used by both the HTTP middleware and the WebSocket upgrade
// path, where the token rides in a query parameter.
func ParseToken(tokenString string) (uuid.UUID, error) {
	if len(jwtSecret) == 0 {
		return uuid.Nil, errors.New("auth secret not configured")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, errors.New("invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return uuid.Nil, errors.New("token missing subject")
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, errors.New("token subject is not a valid user id")
	}
	return userID, nil
}

// Protected protects routes requiring authentication
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization header"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token format"})
		}

		userID, err := ParseToken(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token: " + err.Error()})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

// GetUserID returns the authenticated user's ID from context
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	id, ok := c.Locals("user_id").(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("user id not found in context")
	}
	return id, nil
}
