package lockmanager

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(NewRedisBackend(client))
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "k1", "test-op", 5, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h == nil {
		t.Fatal("expected a handle, got nil")
	}

	if err := m.Release(ctx, h); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Released key should be acquirable again immediately.
	h2, err := m.Acquire(ctx, "k1", "test-op", 5, time.Second)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if h2 == nil {
		t.Fatal("expected to reacquire released lock")
	}
}

func TestAcquireContentionTimesOut(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "k2", "holder", 5, time.Second)
	if err != nil || h == nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	h2, err := m.Acquire(ctx, "k2", "contender", 5, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("contended acquire returned error: %v", err)
	}
	if h2 != nil {
		t.Fatal("expected nil handle on timeout while lock is held live")
	}
}

func TestHeartbeatKeepsLockAlive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "k3", "holder", 5, time.Second)
	if err != nil || h == nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	ok, err := m.Heartbeat(ctx, h)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if !ok {
		t.Fatal("expected heartbeat to succeed for current owner")
	}
}

func TestHeartbeatFailsAfterRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h, err := m.Acquire(ctx, "k4", "holder", 5, time.Second)
	if err != nil || h == nil {
		t.Fatalf("setup acquire failed: %v", err)
	}
	if err := m.Release(ctx, h); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err := m.Heartbeat(ctx, h)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if ok {
		t.Fatal("expected heartbeat to fail once the lock was released")
	}
}

func TestWithKeyLockNoOpIsNoOp(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var calls int32
	_, err := WithKeyLock(ctx, m, "k5", "noop", 5, time.Second, func(h *Handle, beat func() bool) (struct{}, error) {
		atomic.AddInt32(&calls, 1)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("WithKeyLock: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one invocation, got %d", calls)
	}

	// The key must be free again afterward.
	h, err := m.Acquire(ctx, "k5", "after", 5, time.Second)
	if err != nil {
		t.Fatalf("acquire after WithKeyLock: %v", err)
	}
	if h == nil {
		t.Fatal("expected lock to be released after WithKeyLock returns")
	}
}

func TestJanitorReclaimsStaleLock(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backend := NewRedisBackend(client)
	ctx := context.Background()

	stale := record{
		HolderID:      "dead-holder",
		Operation:     "op",
		AcquiredAt:    time.Now().Add(-time.Hour),
		LastHeartbeat: time.Now().Add(-time.Hour),
		ExpiresAt:     time.Now().Add(-time.Minute),
	}
	if err := backend.Takeover(ctx, "row:Requests:1", encode(stale), time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	j := NewJanitor(backend, "row:*", time.Minute)
	j.Sweep(ctx)

	val, err := backend.Get(ctx, "row:Requests:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "" {
		t.Fatal("expected janitor to have reclaimed the stale lock")
	}
}
