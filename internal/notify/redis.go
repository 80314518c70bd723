package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSender publishes events as JSON on a Redis pub/sub channel.
type RedisSender struct {
	rdb     redis.UniversalClient
	channel string
}

// RedisOptions holds connection parameters for the Redis sender.
type RedisOptions struct {
	Addr     string
	Password string
	Channel  string
	DB       int
}

// NewRedisSender connects and pings Redis.
func NewRedisSender(ctx context.Context, opts RedisOptions) (*RedisSender, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return NewRedisSenderFromClient(rdb, opts.Channel), nil
}

// NewRedisSenderFromClient wraps an existing client.
func NewRedisSenderFromClient(rdb redis.UniversalClient, channel string) *RedisSender {
	if channel == "" {
		channel = "spread_engine.events"
	}
	return &RedisSender{rdb: rdb, channel: channel}
}

func (r *RedisSender) Name() string { return "redis" }

func (r *RedisSender) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, string(payload)).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", r.channel, err)
	}
	return nil
}

// Close releases the connection.
func (r *RedisSender) Close() error {
	return r.rdb.Close()
}
