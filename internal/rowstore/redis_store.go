package rowstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/itskum47/mdmflow/internal/observability"
)

// RedisStore implements Cache as a thin wrapper over go-redis GET/SET/DEL,
// grounded on store.RedisStore's generic key-value helpers. It backs the
// row-read cache (~60s TTL) and the DistributionMatrix cache (~6h TTL) per
// spec.md §4.2/§4.3 — the caller picks the TTL, this type is TTL-agnostic.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (c *RedisStore) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		observability.RowCacheHits.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	observability.RowCacheHits.WithLabelValues("hit").Inc()
	return val, true, nil
}

func (c *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *RedisStore) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// MemoryCache is an in-process fallback used by tests and by single-node
// deployments that run without Redis, mirroring the teacher's
// idempotency.Store split between a pluggable backend and a sync.Map
// fallback.
type MemoryCache struct {
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	value   string
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	e, ok := c.entries[key]
	if !ok {
		observability.RowCacheHits.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		observability.RowCacheHits.WithLabelValues("miss").Inc()
		return "", false, nil
	}
	observability.RowCacheHits.WithLabelValues("hit").Inc()
	return e.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.entries[key] = memoryCacheEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, key string) error {
	delete(c.entries, key)
	return nil
}
