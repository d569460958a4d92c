package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel carrying session events.
const Channel = "cbt:sessions"

// RedisBus shares session events between server instances.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus connects to redisURL and verifies the connection.
func NewRedisBus(ctx context.Context, redisURL string) (*RedisBus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBus{client: client, channel: Channel}, nil
}

// Publish sends ev to every subscribed instance.
func (b *RedisBus) Publish(ctx context.Context, ev SessionCreated) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}
	return nil
}

// Subscribe listens on the events channel until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan SessionCreated, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan SessionCreated, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := pubsub.Close(); err != nil {
				slog.Debug("Failed to close redis subscription", "error", err)
			}
		}()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					slog.Warn("Ignoring malformed session event", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					slog.Warn("Dropping session event for slow subscriber", "record_id", ev.ID)
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func decodeEvent(payload string) (SessionCreated, error) {
	var ev SessionCreated
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return SessionCreated{}, fmt.Errorf("decode session event: %w", err)
	}
	if ev.Type != TypeSessionCreated {
		return SessionCreated{}, fmt.Errorf("unexpected event type %q", ev.Type)
	}
	return ev, nil
}
