package lockmanager

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend atop go-redis/v9, grounded directly on
// store.RedisStore.AcquireLock (SETNX) and RenewLock/ReleaseLock's
// Lua-script CAS pattern.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) TryAcquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, key, value, ttl).Result()
}

func (b *RedisBackend) Takeover(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

const compareAndSwapScript = `
local cur = redis.call("get", KEYS[1])
if cur == ARGV[1] then
	redis.call("set", KEYS[1], ARGV[2], "PX", tonumber(ARGV[3]))
	return 1
end
return 0
`

func (b *RedisBackend) CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error) {
	res, err := b.client.Eval(ctx, compareAndSwapScript, []string{key}, oldValue, newValue, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	if !ok {
		return false, errors.New("lockmanager: unexpected compare-and-swap return type")
	}
	return n == 1, nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

func (b *RedisBackend) Release(ctx context.Context, key, value string) error {
	_, err := b.client.Eval(ctx, releaseScript, []string{key}, value).Result()
	return err
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (b *RedisBackend) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
