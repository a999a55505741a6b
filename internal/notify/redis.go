package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of a Redis client used for pub/sub
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisHandler publishes each event as JSON on the channels of its groups,
// so other instances can relay them to their own websocket clients.
type RedisHandler struct {
	client Publisher
	prefix string
}

// NewRedisHandler creates a handler. prefix is prepended to every channel.
func NewRedisHandler(client Publisher, prefix string) *RedisHandler {
	return &RedisHandler{client: client, prefix: prefix}
}

func (h *RedisHandler) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	for _, group := range event.Groups() {
		channel := h.prefix + group
		if err := h.client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", channel, err)
		}
	}
	return nil
}

func (h *RedisHandler) Name() string {
	return "redis"
}
