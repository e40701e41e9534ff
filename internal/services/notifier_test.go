package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRedisNotifierPublish(t *testing.T) {
	client := setupTestRedis(t)
	notifier := NewRedisNotifier(client, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, NotificationChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	msgs := sub.Channel()

	event := NotificationEvent{
		Type:    NotificationTypePriceThreshold,
		UserID:  uuid.New(),
		DealID:  uuid.New(),
		Title:   "Price drop alert",
		Message: "Price dropped below your threshold",
	}
	if err := notifier.Publish(ctx, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-msgs:
		var got NotificationEvent
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("payload not decodable: %v", err)
		}
		if got.Type != NotificationTypePriceThreshold {
			t.Fatalf("type %q, want %q", got.Type, NotificationTypePriceThreshold)
		}
		if got.UserID != event.UserID || got.DealID != event.DealID {
			t.Fatalf("routing fields lost: %+v", got)
		}
		if got.Timestamp.IsZero() {
			t.Fatal("timestamp should be stamped on publish")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published event")
	}
}
