package rowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itskum47/mdmflow/internal/observability"
)

// PostgresStore implements Store using a durable `rows` table keyed by
// (table_name, row_id) with the full row persisted as JSONB, plus a
// version column for optimistic concurrency. Grounded on
// store.PostgresStore, generalized from one Go struct per SQL table to a
// single generic rows table so arbitrary master/assignee tables (BOM,
// Pricing, Promo, ...) don't each need a migration.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) ReadHeaders(ctx context.Context, table string) ([]string, error) {
	rows, found, err := s.readAll(ctx, table, 1)
	if err != nil || !found {
		return nil, err
	}
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *PostgresStore) readAll(ctx context.Context, table string, limit int) ([]Record, bool, error) {
	query := `SELECT data FROM rows WHERE table_name = $1 ORDER BY row_id DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, table, limit)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, false, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, false, err
		}
		out = append(out, rec)
	}
	return out, len(out) > 0, rows.Err()
}

func (s *PostgresStore) ReadRow(ctx context.Context, table, rowID string) (Record, bool, error) {
	start := time.Now()
	defer func() { observability.RowWriteLatency.WithLabelValues(table).Observe(time.Since(start).Seconds()) }()

	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM rows WHERE table_name = $1 AND row_id = $2`, table, rowID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) FindRow(ctx context.Context, table, keyCol, keyVal string) (string, bool, error) {
	var rowID string
	err := s.pool.QueryRow(ctx,
		`SELECT row_id FROM rows WHERE table_name = $1 AND data->>$2 = $3 LIMIT 1`,
		table, keyCol, keyVal,
	).Scan(&rowID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rowID, true, nil
}

func (s *PostgresStore) UpsertRow(ctx context.Context, table, primaryKeyCol string, values Record, overwrite bool) (string, error) {
	start := time.Now()
	defer func() { observability.RowWriteLatency.WithLabelValues(table).Observe(time.Since(start).Seconds()) }()

	keyVal, ok := values[primaryKeyCol]
	if !ok {
		return "", fmt.Errorf("rowstore: upsert missing primary key column %q", primaryKeyCol)
	}
	rowID := fmt.Sprintf("%v", keyVal)

	if !overwrite {
		existing, found, err := s.ReadRow(ctx, table, rowID)
		if err != nil {
			return "", err
		}
		if found {
			merged := mergeKeepingExisting(existing, values)
			values = merged
		}
	}

	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rows (table_name, row_id, data, version, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (table_name, row_id) DO UPDATE SET
			data = EXCLUDED.data,
			version = rows.version + 1,
			updated_at = NOW()
	`, table, rowID, data)
	return rowID, err
}

// mergeKeepingExisting implements overwrite=false: new cell wins unless
// it's empty/nil, in which case the existing value is kept.
func mergeKeepingExisting(existing, incoming Record) Record {
	out := make(Record, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		if isEmptyCell(v) {
			if _, has := out[k]; has {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isEmptyCell(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func (s *PostgresStore) SetCell(ctx context.Context, table, rowID, col string, val any) error {
	return s.SetCells(ctx, table, rowID, []string{col}, []any{val})
}

func (s *PostgresStore) SetCells(ctx context.Context, table, rowID string, cols []string, vals []any) error {
	if len(cols) != len(vals) {
		return errors.New("rowstore: cols/vals length mismatch")
	}
	start := time.Now()
	defer func() { observability.RowWriteLatency.WithLabelValues(table).Observe(time.Since(start).Seconds()) }()

	// Single jsonb chain, batching all columns into one UPDATE statement:
	// the relational generalization of spec.md §4.2's contiguous-
	// column-run batching heuristic.
	query := `UPDATE rows SET data = data`
	args := []any{table, rowID}
	argN := 2 // $1, $2 reserved for table_name/row_id in WHERE
	for i, col := range cols {
		argN++
		colArg := argN
		argN++
		valArg := argN
		query += fmt.Sprintf(" || jsonb_build_object($%d::text, to_jsonb($%d::text))", colArg, valArg)
		args = append(args, col, fmt.Sprintf("%v", vals[i]))
	}
	query += `, version = rows.version + 1, updated_at = NOW() WHERE table_name = $1 AND row_id = $2`
	finalArgs := append([]any{table, rowID}, args...)

	tag, err := s.pool.Exec(ctx, query, finalArgs...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rowstore: no row %s/%s to update", table, rowID)
	}
	return nil
}

func (s *PostgresStore) ClearRange(ctx context.Context, table, rowID string, cols []string) error {
	vals := make([]any, len(cols))
	for i := range cols {
		vals[i] = ""
	}
	return s.SetCells(ctx, table, rowID, cols, vals)
}

func (s *PostgresStore) ScanNeedingAdvancement(ctx context.Context, table string, shardIndex, shardCount int) ([]string, error) {
	if shardCount <= 0 {
		shardCount = 1
	}
	rows, err := s.pool.Query(ctx, `SELECT row_id FROM rows WHERE table_name = $1 ORDER BY row_id DESC`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var rowID string
		if err := rows.Scan(&rowID); err != nil {
			return nil, err
		}
		if shardCount > 1 && fnvShard(rowID, shardCount) != shardIndex {
			continue
		}
		out = append(out, rowID)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteRow(ctx context.Context, table, rowID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rows WHERE table_name = $1 AND row_id = $2`, table, rowID)
	return err
}

// fnvShard reuses the FNV-hash sharding idiom from
// store.RedisStore.ListStatesByStatus/scheduler.fnvHash.
func fnvShard(id string, shardCount int) int {
	h := uint32(2166136261)
	for i := 0; i < len(id); i++ {
		h *= 16777619
		h ^= uint32(id[i])
	}
	return int(h % uint32(shardCount))
}
