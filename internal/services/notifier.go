/**
 * @description
 * Notification trigger for the price tracking core.
 * Decides whether and what to notify; delivery (email/SMS/push) belongs to
 * the external notification service, which consumes the Redis channel.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 * - backend/internal/logger
 */

package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dealwatch-project/backend/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// NotificationChannel carries structured notification events to the
	// external delivery service.
	NotificationChannel = "notifications:events"

	// PriceUpdateChannel fans appended price points out to WebSocket hubs in
	// other processes.
	PriceUpdateChannel = "deals:price_updates"

	// PredictionUpdateChannel fans new predictions out the same way.
	PredictionUpdateChannel = "deals:prediction_updates"
)

// NotificationType defines types of notification events
type NotificationType string

const (
	NotificationTypePriceThreshold   NotificationType = "PRICE_THRESHOLD"
	NotificationTypePredictionChange NotificationType = "PREDICTION_CHANGE"
)

// NotificationEvent is the payload handed to the external notification service
type NotificationEvent struct {
	Type         NotificationType       `json:"type"`
	UserID       uuid.UUID              `json:"user_id"`
	DealID       uuid.UUID              `json:"deal_id"`
	TrackerID    *uuid.UUID             `json:"tracker_id,omitempty"`
	PredictionID *uuid.UUID             `json:"prediction_id,omitempty"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NotificationPublisher emits notification events to the external collaborator
type NotificationPublisher interface {
	Publish(ctx context.Context, event NotificationEvent) error
}

// RedisNotifier publishes notification events over Redis pub/sub
type RedisNotifier struct {
	redis   *redis.Client
	channel string
}

// NewRedisNotifier creates a RedisNotifier on the given channel
// (NotificationChannel when empty).
func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = NotificationChannel
	}
	return &RedisNotifier{redis: rdb, channel: channel}
}

// Publish serializes the event and publishes it
func (n *RedisNotifier) Publish(ctx context.Context, event NotificationEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := n.redis.Publish(ctx, n.channel, payload).Err(); err != nil {
		logger.Error("RedisNotifier: failed to publish %s event: %v", event.Type, err)
		return err
	}

	logger.Info("RedisNotifier: published %s event for user %s deal %s", event.Type, event.UserID, event.DealID)
	return nil
}
