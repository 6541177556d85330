package allocator

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoundRobinCursor maintains a short-TTL per-rule cursor used to break
// ties among equally-loaded agents, per spec.md §4.6 ("maintain a
// per-rule cursor RR(RequestType) in a short-TTL shared counter").
// Grounded on store.RedisStore.IncrementEpoch's key+":epoch" INCR
// pattern, reused here for a tie-break counter instead of a fencing
// epoch.
type RoundRobinCursor struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoundRobinCursor(client *redis.Client, ttl time.Duration) *RoundRobinCursor {
	return &RoundRobinCursor{client: client, ttl: ttl}
}

// Next returns the next cursor value for rule (0, 1, 2, ...) and resets
// its TTL, so a rule that goes quiet for longer than ttl restarts at 0
// rather than growing unbounded.
func (r *RoundRobinCursor) Next(ctx context.Context, rule string) (int, error) {
	key := "rr:" + rule
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	r.client.Expire(ctx, key, r.ttl)
	return int(n - 1), nil
}
