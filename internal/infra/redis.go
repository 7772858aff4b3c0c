package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheOptions tunes the Redis client backing rate limiting and idempotency.
// Zero values keep the go-redis defaults.
type CacheOptions struct {
	PoolSize   int
	OpTimeout  time.Duration
	MaxRetries int
}

// NewRedisClient configures a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, url string, opts CacheOptions) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	if opts.OpTimeout > 0 {
		opt.DialTimeout = opts.OpTimeout
		opt.ReadTimeout = opts.OpTimeout
		opt.WriteTimeout = opts.OpTimeout
	}
	if opts.MaxRetries != 0 {
		opt.MaxRetries = opts.MaxRetries
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
