package rowstore

import (
	"context"
	"time"
)

// Store is the RowStore contract (C2, spec.md §4.2): transactional
// read/merge/write on keyed rows in named tables. Grounded on
// store.Store's split between a durable backend (Postgres) and an
// ephemeral one (Redis), generalized from FluxForge's fixed
// Agent/Job/DesiredState shapes to arbitrary named tables of Record.
type Store interface {
	// ReadHeaders returns the known column names for table. No layer in
	// this package caches the result; callers read it on each use.
	ReadHeaders(ctx context.Context, table string) ([]string, error)

	// ReadRow returns the row at rowID, or (nil, false, nil) if absent.
	ReadRow(ctx context.Context, table, rowID string) (Record, bool, error)

	// FindRow returns the rowID whose keyCol equals keyVal (exact match),
	// or ("", false, nil) if none.
	FindRow(ctx context.Context, table, keyCol, keyVal string) (string, bool, error)

	// UpsertRow writes values at rowID (values[primaryKeyCol] identifies
	// the row). overwrite=true replaces all cells; overwrite=false merges,
	// keeping existing cell values where the new cell is empty/absent.
	UpsertRow(ctx context.Context, table, primaryKeyCol string, values Record, overwrite bool) (rowID string, err error)

	// SetCell writes a single column.
	SetCell(ctx context.Context, table, rowID, col string, val any) error

	// SetCells writes multiple columns in one call. Implementations
	// should batch this into a single underlying write when possible
	// (spec.md §4.2's contiguous-column-run heuristic, generalized here
	// to "one UPDATE statement touching N columns" since a relational
	// row has no column-index contiguity to speak of).
	SetCells(ctx context.Context, table, rowID string, cols []string, vals []any) error

	// ClearRange clears the named columns (spec.md's clearRange
	// generalized from a column-index span to an explicit column list,
	// since the underlying store is no longer a spreadsheet).
	ClearRange(ctx context.Context, table, rowID string, cols []string) error

	// ScanNeedingAdvancement returns every row ID in table that falls in
	// this shard (no predicate is applied here; the caller filters), in
	// descending-rowID order per spec.md §4.8 ("to avoid index shift
	// under concurrent insertions" — generalized to "process newest
	// first" since rows are no longer spreadsheet-ordered).
	ScanNeedingAdvancement(ctx context.Context, table string, shardIndex, shardCount int) ([]string, error)

	// DeleteRow removes rowID from table (used by the send-back path,
	// spec.md E3, to delete a row from the assignee's table).
	DeleteRow(ctx context.Context, table, rowID string) error
}

// Cache is the short-lived read cache (TTL ~= 60s for rows, ~= 6h for the
// DistributionMatrix per spec.md §4.2/§4.3), grounded on
// store.RedisStore's generic Set/Get Key-Value operations.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}
