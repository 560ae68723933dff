// Package cache publishes engine snapshots to Redis so other dashboard
// processes can read current state without talking to the engine.
//
// # Keys
//
//	selfheal:cache:snapshot   latest snapshot JSON, with TTL
//	selfheal:events           pub/sub channel carrying each new snapshot
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/selfheal/pkg/types"
)

const (
	// Cache key prefixes
	keyPrefix = "selfheal:cache:"

	// SnapshotKey holds the latest snapshot (without prefix).
	SnapshotKey = "snapshot"

	// EventsChannel receives every published snapshot.
	EventsChannel = "selfheal:events"

	// DefaultTTL bounds how long a snapshot stays readable if the engine dies.
	DefaultTTL = 5 * time.Minute
)

// Cache is a Redis-backed snapshot publisher.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// New creates a new Redis-backed cache.
func New(redisURL string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client, ttl, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Get retrieves a cached value. Returns nil if not found or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// GetJSON retrieves and unmarshals a cached JSON value.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil // Cache miss
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// Publish stores v under the snapshot key and announces it on the events
// channel in one pipeline.
func (c *Cache) Publish(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+SnapshotKey, data, c.ttl)
		pipe.Publish(ctx, EventsChannel, data)
		return nil
	})
	if err != nil {
		c.failed.Add(1)
		c.logger.Warn("failed to publish snapshot", "error", err)
		return err
	}
	c.published.Add(1)
	return nil
}

// Stats reports connectivity and publish counters.
func (c *Cache) Stats(ctx context.Context) types.CacheHealth {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return types.CacheHealth{
		Enabled:   true,
		Connected: c.client.Ping(pingCtx).Err() == nil,
		Published: c.published.Load(),
		Failed:    c.failed.Load(),
	}
}
