package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisPublisher is the subset of *redis.Client used by RedisSink.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes notifications on a Redis pub/sub channel.
type RedisSink struct {
	client  redisPublisher
	channel string
	closer  func() error
}

// NewRedisSink connects to addr and verifies the connection.
func NewRedisSink(ctx context.Context, addr, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisSink{client: client, channel: channel, closer: client.Close}, nil
}

// NewRedisSinkWith is only for tests to inject a fake client.
func NewRedisSinkWith(client redisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (r *RedisSink) Publish(ctx context.Context, subject, message string) error {
	data, err := json.Marshal(Notification{Subject: subject, Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (r *RedisSink) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
