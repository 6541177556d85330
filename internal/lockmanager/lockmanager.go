// Package lockmanager implements a distributed, string-keyed lease lock
// with heartbeat and takeover-on-staleness, grounded on
// control_plane/coordination/leader.go's lease acquire/renew/release
// idiom and control_plane/store/redis.go's Lua-script-based CAS
// primitives, generalized from a single global leader key to arbitrary
// caller-supplied keys.
package lockmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/observability"
)

const (
	// StaleThreshold is STALE_THRESHOLD from spec.md §4.1.
	StaleThreshold = 8 * time.Second
	// LeaseDuration is LEASE_MS from spec.md §4.1.
	LeaseDuration = 300 * time.Second
	// cushion is the extra TTL margin over LeaseDuration applied to the
	// underlying backend key, matching the teacher's TTL = LEASE_MS + cushion.
	cushion = 30 * time.Second
)

// Backend is the distributed primitive LockManager drives. RedisBackend
// (see redis.go) implements it atop go-redis/v9, grounded on
// store.RedisStore.AcquireLock/RenewLock/ReleaseLock/GetLockOwner and their
// Lua-script CAS semantics.
type Backend interface {
	// TryAcquire sets key=value with NX semantics and the given TTL.
	// Returns true iff this call created the key.
	TryAcquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Takeover force-sets key=value with the given TTL regardless of the
	// current owner. Used only once staleness has been established.
	Takeover(ctx context.Context, key, value string, ttl time.Duration) error
	// CompareAndSwap atomically replaces oldValue with newValue and resets
	// the TTL, iff the stored value still equals oldValue.
	CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error)
	// Release deletes key iff the stored value equals value.
	Release(ctx context.Context, key, value string) error
	// Get returns the raw stored value, or "" if absent.
	Get(ctx context.Context, key string) (string, error)
	// Scan returns all keys matching pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// record is the JSON-encoded value stored at a lock key.
type record struct {
	HolderID      string    `json:"holder_id"`
	Operation     string    `json:"operation"`
	Priority      int       `json:"priority"`
	AcquiredAt    time.Time `json:"acquired_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func encode(r record) string {
	b, _ := json.Marshal(r)
	return string(b)
}

func decode(s string) (record, error) {
	var r record
	err := json.Unmarshal([]byte(s), &r)
	return r, err
}

// Handle is returned by Acquire and must be passed to Release/Heartbeat.
type Handle struct {
	HolderID string
	Key      string

	mu    sync.Mutex
	value string // exact JSON stored at acquire/last-heartbeat time
}

// Manager is the LockManager (C1).
type Manager struct {
	backend Backend
}

func New(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Acquire blocks up to maxWait for a live lease on key, taking it over if
// the current holder is stale (spec.md §4.1 cases a/b/c). Returns a nil
// handle (no error) on timeout, per spec.md's "acquire returns null".
func (m *Manager) Acquire(ctx context.Context, key, op string, priority int, maxWait time.Duration) (*Handle, error) {
	deadline := time.Now().Add(maxWait)
	holderID := uuid.NewString()

	for {
		acquired, rec, err := m.tryOnce(ctx, key, holderID, op, priority)
		if err != nil {
			return nil, err
		}
		if acquired {
			return &Handle{HolderID: holderID, Key: key, value: encode(rec)}, nil
		}

		if time.Now().After(deadline) {
			observability.LockAcquisitions.WithLabelValues("timeout").Inc()
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffFor(priority)):
		}
	}
}

// tryOnce implements the compare-and-swap decision tree from spec.md
// §4.1: absent -> acquire; present+dead -> takeover; present+live -> fail
// this attempt (caller backs off and retries).
func (m *Manager) tryOnce(ctx context.Context, key, holderID, op string, priority int) (bool, record, error) {
	now := time.Now()
	rec := record{
		HolderID:      holderID,
		Operation:     op,
		Priority:      priority,
		AcquiredAt:    now,
		LastHeartbeat: now,
		ExpiresAt:     now.Add(LeaseDuration),
	}
	val := encode(rec)

	ok, err := m.backend.TryAcquire(ctx, key, val, LeaseDuration+cushion)
	if err != nil {
		return false, record{}, err
	}
	if ok {
		observability.LockAcquisitions.WithLabelValues("acquired").Inc()
		return true, rec, nil
	}

	raw, err := m.backend.Get(ctx, key)
	if err != nil {
		return false, record{}, err
	}
	if raw == "" {
		// Raced with a concurrent release; try once more immediately.
		ok, err := m.backend.TryAcquire(ctx, key, val, LeaseDuration+cushion)
		if err != nil {
			return false, record{}, err
		}
		if ok {
			observability.LockAcquisitions.WithLabelValues("acquired").Inc()
		}
		return ok, rec, nil
	}

	existing, err := decode(raw)
	if err != nil {
		log.Warn().Str("key", key).Msg("lockmanager: took over lock with undecodable record")
		return m.takeover(ctx, key, val, rec, "acquire-path")
	}

	if isLive(existing, now) {
		return false, record{}, nil
	}

	log.Warn().
		Str("key", key).
		Str("prev_holder", existing.HolderID).
		Msg("lockmanager: took over stale lock")
	return m.takeover(ctx, key, val, rec, "acquire-path")
}

func (m *Manager) takeover(ctx context.Context, key, val string, rec record, source string) (bool, record, error) {
	if err := m.backend.Takeover(ctx, key, val, LeaseDuration+cushion); err != nil {
		return false, record{}, err
	}
	observability.LockTakeovers.WithLabelValues(source).Inc()
	observability.LockAcquisitions.WithLabelValues("takeover").Inc()
	return true, rec, nil
}

// isLive implements I7: now <= expiresAt AND now - lastHeartbeat <= STALE_THRESHOLD.
func isLive(r record, now time.Time) bool {
	if now.After(r.ExpiresAt) {
		return false
	}
	if now.Sub(r.LastHeartbeat) > StaleThreshold {
		return false
	}
	return true
}

// Release is idempotent; it only removes the record if holderID still
// matches (spec.md §4.1).
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	val := h.value
	h.mu.Unlock()
	if val == "" {
		return nil
	}
	return m.backend.Release(ctx, h.Key, val)
}

// Heartbeat extends lastHeartbeat/expiresAt iff h is still the owner.
// Returns false if the lock record is gone or owned by someone else.
func (m *Manager) Heartbeat(ctx context.Context, h *Handle) (bool, error) {
	h.mu.Lock()
	key, oldVal := h.Key, h.value
	h.mu.Unlock()
	if oldVal == "" {
		return false, nil
	}

	existing, err := decode(oldVal)
	if err != nil {
		return false, err
	}
	existing.LastHeartbeat = time.Now()
	existing.ExpiresAt = existing.LastHeartbeat.Add(LeaseDuration)
	newVal := encode(existing)

	ok, err := m.backend.CompareAndSwap(ctx, key, oldVal, newVal, LeaseDuration+cushion)
	if err != nil || !ok {
		return false, err
	}

	h.mu.Lock()
	h.value = newVal
	h.mu.Unlock()
	return true, nil
}

// WithKeyLock is the RAII-style wrapper from spec.md §4.1: fn gets a
// beat() closure to extend the lease mid-section.
func WithKeyLock[T any](ctx context.Context, m *Manager, key, op string, priority int, maxWait time.Duration, fn func(h *Handle, beat func() bool) (T, error)) (T, error) {
	var zero T
	h, err := m.Acquire(ctx, key, op, priority, maxWait)
	if err != nil {
		return zero, err
	}
	if h == nil {
		return zero, errors.New("lockmanager: acquire timed out for key " + key)
	}
	start := time.Now()
	defer func() {
		observability.LockHoldDuration.Observe(time.Since(start).Seconds())
		if releaseErr := m.Release(context.Background(), h); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("key", key).Msg("lockmanager: release failed")
		}
	}()

	beat := func() bool {
		ok, err := m.Heartbeat(ctx, h)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("lockmanager: heartbeat failed")
			return false
		}
		return ok
	}

	return fn(h, beat)
}

// WithRowLock composes a key as row:<table>:<rowID>, per spec.md §4.1.
func WithRowLock[T any](ctx context.Context, m *Manager, table, rowID, op string, maxWait time.Duration, fn func(h *Handle, beat func() bool) (T, error)) (T, error) {
	key := fmt.Sprintf("row:%s:%s", table, rowID)
	return WithKeyLock(ctx, m, key, op, 5, maxWait, fn)
}

func backoffFor(priority int) time.Duration {
	// Lower numeric priority = faster retries (spec.md §4.1).
	base := time.Duration(50+priority*25) * time.Millisecond
	cap := time.Duration(500+priority*200) * time.Millisecond
	span := int64(cap - base)
	if span <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(span+1))
}
