package rowstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreUpsertOverwriteFalseKeepsExisting(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.UpsertRow(ctx, "Requests", "request_number", Record{
		"request_number": "REQ-1",
		"department":     "Sales",
	}, true); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}

	if _, err := s.UpsertRow(ctx, "Requests", "request_number", Record{
		"request_number": "REQ-1",
		"department":     "", // empty, should not clobber existing
	}, false); err != nil {
		t.Fatalf("merge upsert: %v", err)
	}

	row, found, err := s.ReadRow(ctx, "Requests", "REQ-1")
	if err != nil || !found {
		t.Fatalf("read back: found=%v err=%v", found, err)
	}
	if row["department"] != "Sales" {
		t.Fatalf("expected merge to preserve existing department, got %v", row["department"])
	}
}

func TestMemoryStoreFindRow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.UpsertRow(ctx, "Requests", "request_number", Record{
		"request_number": "REQ-2",
		"requester_email": "a@example.com",
	}, true); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rowID, found, err := s.FindRow(ctx, "Requests", "requester_email", "a@example.com")
	if err != nil || !found {
		t.Fatalf("find: found=%v err=%v", found, err)
	}
	if rowID != "REQ-2" {
		t.Fatalf("expected REQ-2, got %q", rowID)
	}
}

func TestMemoryStoreScanNeedingAdvancementDescending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if _, err := s.UpsertRow(ctx, "Requests", "request_number", Record{"request_number": id}, true); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	ids, err := s.ScanNeedingAdvancement(ctx, "Requests", 0, 1)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(ids) != 3 || ids[0] != "3" || ids[2] != "1" {
		t.Fatalf("expected descending order [3 2 1], got %v", ids)
	}
}

func TestMemoryStoreSetCellsRequiresExistingRow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.SetCell(ctx, "Requests", "missing", "department", "Sales")
	if err == nil {
		t.Fatal("expected error setting a cell on a nonexistent row")
	}
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCachedStoreReadThroughAndInvalidation(t *testing.T) {
	ctx := context.Background()
	durable := NewMemoryStore()
	cache := NewRedisStore(newTestRedisClient(t), "test")
	cs := NewCachedStore(durable, cache, time.Minute)

	if _, err := durable.UpsertRow(ctx, "Requests", "request_number", Record{
		"request_number": "REQ-3",
		"department":     "Finance",
	}, true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	row, found, err := cs.ReadRow(ctx, "Requests", "REQ-3")
	if err != nil || !found {
		t.Fatalf("first read: found=%v err=%v", found, err)
	}
	if row["department"] != "Finance" {
		t.Fatalf("unexpected row: %v", row)
	}

	// Mutate the durable store directly, bypassing the cache: a cached
	// read should still observe the stale cached value.
	if err := durable.SetCell(ctx, "Requests", "REQ-3", "department", "Ops"); err != nil {
		t.Fatalf("direct mutate: %v", err)
	}
	row2, _, _ := cs.ReadRow(ctx, "Requests", "REQ-3")
	if row2["department"] != "Finance" {
		t.Fatalf("expected stale cached read of Finance, got %v", row2["department"])
	}

	// A write through CachedStore invalidates the cache key, so the next
	// read observes the fresh value.
	if err := cs.SetCell(ctx, "Requests", "REQ-3", "department", "Legal"); err != nil {
		t.Fatalf("cached set: %v", err)
	}
	row3, _, err := cs.ReadRow(ctx, "Requests", "REQ-3")
	if err != nil {
		t.Fatalf("post-invalidation read: %v", err)
	}
	if row3["department"] != "Legal" {
		t.Fatalf("expected Legal after invalidation, got %v", row3["department"])
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Fatal("expected immediate hit")
	}

	time.Sleep(20 * time.Millisecond)
	if _, found, _ := c.Get(ctx, "k"); found {
		t.Fatal("expected entry to have expired")
	}
}
