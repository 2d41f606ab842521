package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Bus relays realtime messages between server instances over Redis pub/sub
type Bus struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewBus creates a bus on the given pub/sub channel
func NewBus(client *redis.Client, channel string, logger *slog.Logger) *Bus {
	return &Bus{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_bus"),
	}
}

// Publish sends an encoded message to every subscribed instance
func (b *Bus) Publish(ctx context.Context, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing: %w", err)
	}
	return nil
}

// StartForwarder subscribes and hands every received payload to onMsg until
// ctx is done. It returns once the subscription is confirmed.
func (b *Bus) StartForwarder(ctx context.Context, onMsg func(payload []byte)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					b.logger.Warn("subscription closed")
					return
				}
				onMsg([]byte(m.Payload))
			}
		}
	}()

	b.logger.Info("forwarding realtime messages", "channel", b.channel)
	return nil
}
