package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces group channels in Redis.
const ChannelPrefix = "agrohub:group:"

// RedisLayer fans group messages out through Redis pub/sub so that every web
// process, and the worker, reach the same groups.
type RedisLayer struct {
	client    *redis.Client
	logger    *slog.Logger
	ready     chan struct{}
	readyOnce sync.Once
}

// NewRedisLayer returns a layer on client.
func NewRedisLayer(client *redis.Client, logger *slog.Logger) *RedisLayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLayer{client: client, logger: logger, ready: make(chan struct{})}
}

// Publish sends msg to the group channel.
func (l *RedisLayer) Publish(ctx context.Context, group string, msg Message) error {
	msg.Group = group
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: encode: %w", err)
	}
	if err := l.client.Publish(ctx, ChannelPrefix+group, data).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", group, err)
	}
	return nil
}

// Ready is closed once the pattern subscription is confirmed.
func (l *RedisLayer) Ready() <-chan struct{} {
	return l.ready
}

// Run subscribes to every group channel and hands messages to deliver until
// ctx is cancelled.
func (l *RedisLayer) Run(ctx context.Context, deliver func(group string, msg Message)) error {
	sub := l.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("realtime: subscribe: %w", err)
	}
	l.readyOnce.Do(func() { close(l.ready) })
	l.logger.Info("realtime layer subscribed", slog.String("pattern", ChannelPrefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				l.logger.Warn("realtime layer decode", slog.String("channel", m.Channel), slog.Any("error", err))
				continue
			}
			deliver(strings.TrimPrefix(m.Channel, ChannelPrefix), msg)
		}
	}
}

var _ Layer = (*RedisLayer)(nil)
