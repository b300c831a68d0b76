package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the shared cache used when multiple API replicas run behind a
// load balancer. TTL enforcement is delegated to Redis key expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get fetches and decodes the cached entry. A missing key is a miss, not an
// error.
func (c *RedisCache) Get(ctx context.Context, orderID, paymentID string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, Key(orderID, paymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("statuscache: redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is treated as a miss so the resolver re-fetches.
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set stores the entry with the given TTL.
func (c *RedisCache) Set(ctx context.Context, orderID, paymentID string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("statuscache: encode entry: %w", err)
	}
	if err := c.client.Set(ctx, Key(orderID, paymentID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("statuscache: redis set: %w", err)
	}
	return nil
}
