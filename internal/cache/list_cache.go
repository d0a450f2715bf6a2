// Package cache provides a Redis-backed cache for list query results.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ListCache stores serialized list pages keyed by their filter set.
type ListCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewListCache creates a Redis-backed list cache
func NewListCache(redisURL string, ttl time.Duration) (*ListCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewListCacheWithClient(client, ttl), nil
}

// NewListCacheWithClient creates a cache from an existing Redis client
func NewListCacheWithClient(client *redis.Client, ttl time.Duration) *ListCache {
	return &ListCache{
		client: client,
		prefix: "list:",
		ttl:    ttl,
	}
}

// Get returns the cached payload for key, and whether it was present.
func (c *ListCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return payload, true, nil
}

// Set stores payload under key for the configured TTL.
func (c *ListCache) Set(ctx context.Context, key string, payload []byte) error {
	if err := c.client.Set(ctx, c.prefix+key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// InvalidatePrefix removes every cached page whose key starts with keyPrefix.
// Used after writes so stale pages do not outlive their TTL.
func (c *ListCache) InvalidatePrefix(ctx context.Context, keyPrefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+keyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the Redis connection
func (c *ListCache) Close() error {
	return c.client.Close()
}
