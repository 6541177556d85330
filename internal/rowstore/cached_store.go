package rowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CachedStore wraps a durable Store with a read-through Cache: ReadRow
// checks the cache first, falls back to the durable store on miss and
// repopulates the cache; every write path invalidates the row's cache key
// after the durable write commits. Grounded on spec.md §4.2's
// Redis-then-Postgres read path ("readRow checks Redis first, falls back
// to Postgres on miss, repopulates Redis. Write paths invalidate the Redis
// key after the Postgres write commits.").
type CachedStore struct {
	durable Store
	cache   Cache
	rowTTL  time.Duration
}

func NewCachedStore(durable Store, cache Cache, rowTTL time.Duration) *CachedStore {
	return &CachedStore{durable: durable, cache: cache, rowTTL: rowTTL}
}

func cacheKey(table, rowID string) string {
	return fmt.Sprintf("row:%s:%s", table, rowID)
}

func (s *CachedStore) ReadHeaders(ctx context.Context, table string) ([]string, error) {
	return s.durable.ReadHeaders(ctx, table)
}

func (s *CachedStore) ReadRow(ctx context.Context, table, rowID string) (Record, bool, error) {
	key := cacheKey(table, rowID)
	if raw, found, err := s.cache.Get(ctx, key); err == nil && found {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			return rec, true, nil
		}
	}

	rec, found, err := s.durable.ReadRow(ctx, table, rowID)
	if err != nil || !found {
		return rec, found, err
	}

	if raw, err := json.Marshal(rec); err == nil {
		_ = s.cache.Set(ctx, key, string(raw), s.rowTTL)
	}
	return rec, true, nil
}

func (s *CachedStore) FindRow(ctx context.Context, table, keyCol, keyVal string) (string, bool, error) {
	return s.durable.FindRow(ctx, table, keyCol, keyVal)
}

func (s *CachedStore) UpsertRow(ctx context.Context, table, primaryKeyCol string, values Record, overwrite bool) (string, error) {
	rowID, err := s.durable.UpsertRow(ctx, table, primaryKeyCol, values, overwrite)
	if err != nil {
		return "", err
	}
	_ = s.cache.Invalidate(ctx, cacheKey(table, rowID))
	return rowID, nil
}

func (s *CachedStore) SetCell(ctx context.Context, table, rowID, col string, val any) error {
	if err := s.durable.SetCell(ctx, table, rowID, col, val); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cacheKey(table, rowID))
}

func (s *CachedStore) SetCells(ctx context.Context, table, rowID string, cols []string, vals []any) error {
	if err := s.durable.SetCells(ctx, table, rowID, cols, vals); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cacheKey(table, rowID))
}

func (s *CachedStore) ClearRange(ctx context.Context, table, rowID string, cols []string) error {
	if err := s.durable.ClearRange(ctx, table, rowID, cols); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cacheKey(table, rowID))
}

func (s *CachedStore) ScanNeedingAdvancement(ctx context.Context, table string, shardIndex, shardCount int) ([]string, error) {
	return s.durable.ScanNeedingAdvancement(ctx, table, shardIndex, shardCount)
}

func (s *CachedStore) DeleteRow(ctx context.Context, table, rowID string) error {
	if err := s.durable.DeleteRow(ctx, table, rowID); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cacheKey(table, rowID))
}
