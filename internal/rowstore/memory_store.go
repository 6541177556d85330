package rowstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and as the
// single-process fallback, mirroring store.MemoryStore's role as a
// fully-functional stand-in for the Postgres-backed implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]Record // table -> rowID -> row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]map[string]Record)}
}

func (s *MemoryStore) table(name string) map[string]Record {
	t, ok := s.rows[name]
	if !ok {
		t = make(map[string]Record)
		s.rows[name] = t
	}
	return t
}

func (s *MemoryStore) ReadHeaders(ctx context.Context, table string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows[table] {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil
	}
	return nil, nil
}

func (s *MemoryStore) ReadRow(ctx context.Context, table, rowID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.table(table)[rowID]
	if !ok {
		return nil, false, nil
	}
	return cloneRecord(row), true, nil
}

func (s *MemoryStore) FindRow(ctx context.Context, table, keyCol, keyVal string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for rowID, row := range s.rows[table] {
		if fmt.Sprintf("%v", row[keyCol]) == keyVal {
			return rowID, true, nil
		}
	}
	return "", false, nil
}

func (s *MemoryStore) UpsertRow(ctx context.Context, table, primaryKeyCol string, values Record, overwrite bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyVal, ok := values[primaryKeyCol]
	if !ok {
		return "", fmt.Errorf("rowstore: upsert missing primary key column %q", primaryKeyCol)
	}
	rowID := fmt.Sprintf("%v", keyVal)

	t := s.table(table)
	if !overwrite {
		if existing, found := t[rowID]; found {
			values = mergeKeepingExisting(existing, values)
		}
	}
	t[rowID] = cloneRecord(values)
	return rowID, nil
}

func (s *MemoryStore) SetCell(ctx context.Context, table, rowID, col string, val any) error {
	return s.SetCells(ctx, table, rowID, []string{col}, []any{val})
}

func (s *MemoryStore) SetCells(ctx context.Context, table, rowID string, cols []string, vals []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.table(table)[rowID]
	if !ok {
		return fmt.Errorf("rowstore: no row %s/%s to update", table, rowID)
	}
	for i, col := range cols {
		row[col] = vals[i]
	}
	return nil
}

func (s *MemoryStore) ClearRange(ctx context.Context, table, rowID string, cols []string) error {
	vals := make([]any, len(cols))
	for i := range cols {
		vals[i] = ""
	}
	return s.SetCells(ctx, table, rowID, cols, vals)
}

func (s *MemoryStore) ScanNeedingAdvancement(ctx context.Context, table string, shardIndex, shardCount int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if shardCount <= 0 {
		shardCount = 1
	}
	var ids []string
	for rowID := range s.rows[table] {
		if shardCount > 1 && fnvShard(rowID, shardCount) != shardIndex {
			continue
		}
		ids = append(ids, rowID)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func (s *MemoryStore) DeleteRow(ctx context.Context, table, rowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table(table), rowID)
	return nil
}

func cloneRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
