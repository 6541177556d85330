package allocator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/lockmanager"
	"github.com/itskum47/mdmflow/internal/observability"
	"github.com/itskum47/mdmflow/internal/rowstore"
)

// RequestNumberCounter is the per-prefix serialized counter from
// spec.md §4.7. A prefix encodes (tableAbbreviation, BusinessUnit).
// Each call reconciles three sources — a persisted current value, the
// value recorded in a tracker table, and an in-memory cache — takes the
// max, advances all three, and formats the result.
//
// Grounded on the teacher's split between durable storage
// (store.PostgresStore) and a fast ephemeral layer (store.RedisStore),
// generalized here to three explicit sources because spec.md names
// three, not two, and they can each independently lag.
type RequestNumberCounter struct {
	locks *lockmanager.Manager
	store rowstore.Store

	mu        sync.Mutex
	memCache  map[string]int
}

const (
	propertyStoreTable = "RequestNumberCounters" // (a) persisted current value
	trackerTable       = "RequestNumberTracker"   // (b) tracker table
)

func NewRequestNumberCounter(locks *lockmanager.Manager, store rowstore.Store) *RequestNumberCounter {
	return &RequestNumberCounter{locks: locks, store: store, memCache: make(map[string]int)}
}

// Next returns the next formatted request number for (tableAbbreviation,
// businessUnit), e.g. "BOM/MDM/SALES/00042". On any durable write
// failure it falls back to a wall-clock-derived number rather than
// blocking submission, per spec.md §7's fatal-error policy.
func (c *RequestNumberCounter) Next(ctx context.Context, tableAbbreviation, businessUnit string) (string, error) {
	prefix := tableAbbreviation + ":" + businessUnit

	result, err := lockmanager.WithKeyLock(ctx, c.locks, "reqnum:"+prefix, "reqnum-next", 5, 2*time.Second,
		func(h *lockmanager.Handle, beat func() bool) (int, error) {
			return c.reconcileAndAdvance(ctx, prefix)
		})
	if err != nil {
		fallback := int(time.Now().UnixNano()/1e6) % 100000
		observability.RequestNumberFallbacks.Inc()
		log.Warn().Err(err).Str("prefix", prefix).Int("fallback", fallback).
			Msg("requestnumber: counter reconciliation failed, using wall-clock fallback")
		return format(tableAbbreviation, businessUnit, fallback), nil
	}
	return format(tableAbbreviation, businessUnit, result), nil
}

func (c *RequestNumberCounter) reconcileAndAdvance(ctx context.Context, prefix string) (int, error) {
	persisted, err := c.readCounter(ctx, propertyStoreTable, prefix)
	if err != nil {
		return 0, err
	}
	tracked, err := c.readCounter(ctx, trackerTable, prefix)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	cached := c.memCache[prefix]
	c.mu.Unlock()

	next := max3(persisted, tracked, cached) + 1

	if err := c.writeCounter(ctx, propertyStoreTable, prefix, next); err != nil {
		return 0, err
	}
	if err := c.writeCounter(ctx, trackerTable, prefix, next); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.memCache[prefix] = next
	c.mu.Unlock()

	return next, nil
}

func (c *RequestNumberCounter) readCounter(ctx context.Context, table, prefix string) (int, error) {
	row, found, err := c.store.ReadRow(ctx, table, prefix)
	if err != nil || !found {
		return 0, err
	}
	return int(toInt64(row["value"])), nil
}

func (c *RequestNumberCounter) writeCounter(ctx context.Context, table, prefix string, value int) error {
	_, err := c.store.UpsertRow(ctx, table, "prefix", rowstore.Record{
		"prefix": prefix,
		"value":  value,
	}, true)
	return err
}

func max3(a, b, c int) int {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func format(tableAbbreviation, businessUnit string, n int) string {
	return fmt.Sprintf("%s/MDM/%s/%05d", tableAbbreviation, businessUnit, n)
}
