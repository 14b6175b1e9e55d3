package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultChannel   = "chat"
	redisDialTimeout = 5 * time.Second
)

// RedisBridge relays events over a Redis pub/sub channel.
type RedisBridge struct {
	client  *redis.Client
	channel string
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(addr, password, channel string) (*RedisBridge, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = defaultChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBridge{client: client, channel: channel}, nil
}

// Publish sends the event to the channel.
func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe consumes channel messages until ctx is cancelled.
func (b *RedisBridge) Subscribe(ctx context.Context, h Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so publishes after this
	// call are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()
	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("bridge: dropping malformed event", "err", err)
					continue
				}
				h(ev)
			}
		}
	}()
	return nil
}

// Close shuts down the Redis client.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}
