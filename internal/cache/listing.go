package cache

import (
	"context"
	"errors"
	"time"

	"threadboard/internal/observability"

	"github.com/redis/go-redis/v9"
)

// ListingKey is the cache key of the anonymous comment listing.
const ListingKey = "comments:list"

// DefaultListingTTL bounds how stale the anonymous listing may get when an
// invalidation is lost.
const DefaultListingTTL = 60 * time.Second

// ListingCache stores the serialized listing served to anonymous viewers.
// Implementations never fail the caller: errors degrade to a miss or a no-op.
type ListingCache interface {
	GetAnonymousListing(ctx context.Context) ([]byte, bool)
	SetAnonymousListing(ctx context.Context, payload []byte, ttl time.Duration)
	Invalidate(ctx context.Context)
}

// RedisListingCache is a ListingCache backed by a single Redis key.
type RedisListingCache struct {
	client *redis.Client
	key    string
}

// NewRedisListingCache creates a listing cache. A nil client yields a cache
// that always misses.
func NewRedisListingCache(client *redis.Client) *RedisListingCache {
	return &RedisListingCache{client: client, key: ListingKey}
}

func (c *RedisListingCache) GetAnonymousListing(ctx context.Context) ([]byte, bool) {
	if c.client == nil {
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	payload, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.degraded(ctx, "get", err)
		}
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	observability.CacheLookups.WithLabelValues("hit").Inc()
	return payload, true
}

func (c *RedisListingCache) SetAnonymousListing(ctx context.Context, payload []byte, ttl time.Duration) {
	if c.client == nil {
		return
	}
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	if err := c.client.Set(ctx, c.key, payload, ttl).Err(); err != nil {
		c.degraded(ctx, "set", err)
	}
}

func (c *RedisListingCache) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.degraded(ctx, "invalidate", err)
	}
}

func (c *RedisListingCache) degraded(ctx context.Context, operation string, err error) {
	observability.CacheErrors.WithLabelValues(operation).Inc()
	observability.Degraded(ctx, "cache", operation, err)
}
