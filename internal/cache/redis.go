package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	backend "github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using Redis. Values are snappy-compressed.
type RedisCache struct {
	client  *backend.Client
	prefix  string
	ttl     time.Duration
	metrics Metrics
}

type Option func(*RedisCache)

// WithTTL sets the expiration for cached results.
func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

// WithPrefix sets the key prefix for cached results.
func WithPrefix(prefix string) Option {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(address, password string, db int, opts ...Option) *RedisCache {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheFromClient(rdb, opts...)
}

// NewRedisCacheFromClient creates a cache from an existing client.
func NewRedisCacheFromClient(client *backend.Client, opts ...Option) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: "dissolve:result:",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get returns the decompressed value for key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			c.metrics.Misses.Add(1)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read from redis: %w", err)
	}
	value, err := snappy.Decode(nil, raw)
	if err != nil {
		// A corrupt entry counts as a miss; the caller overwrites it.
		c.metrics.Misses.Add(1)
		return nil, false, nil
	}
	c.metrics.Hits.Add(1)
	return value, true, nil
}

// Set stores value under key with the configured TTL (0 = no expiry).
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, c.key(key), snappy.Encode(nil, value), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write to redis: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Metrics returns the cache statistics.
func (c *RedisCache) Metrics() *Metrics {
	return &c.metrics
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
