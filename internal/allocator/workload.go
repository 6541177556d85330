package allocator

import (
	"context"
	"time"

	"github.com/itskum47/mdmflow/internal/lockmanager"
	"github.com/itskum47/mdmflow/internal/observability"
	"github.com/itskum47/mdmflow/internal/rowstore"
)

// WorkloadCounter (C7) is a per-agent non-negative integer counter,
// serialized by a global short-lived lock per spec.md §4.7. Grounded on
// control_plane/scheduler.NodeHealth's role as the mutable per-agent
// bookkeeping the scheduler consults before dispatch, generalized from
// a composite health score to a plain workload-seconds tally, and on
// lockmanager's WithKeyLock for the "under a global short-lived lock"
// requirement.
type WorkloadCounter struct {
	locks *lockmanager.Manager
	store rowstore.Store
	table string
}

func NewWorkloadCounter(locks *lockmanager.Manager, store rowstore.Store) *WorkloadCounter {
	return &WorkloadCounter{locks: locks, store: store, table: "Agents"}
}

// Add adjusts agent's WorkloadSeconds by delta (which may be negative),
// clamping the result at >= 0, and returns the new total.
func (w *WorkloadCounter) Add(ctx context.Context, agent string, delta int64) (int64, error) {
	result, err := lockmanager.WithKeyLock(ctx, w.locks, "workload:"+agent, "workload-add", 5, 2*time.Second,
		func(h *lockmanager.Handle, beat func() bool) (int64, error) {
			row, found, err := w.store.ReadRow(ctx, w.table, agent)
			if err != nil {
				return 0, err
			}
			var current int64
			if found {
				current = toInt64(row["workload_seconds"])
			}
			next := current + delta
			if next < 0 {
				next = 0
			}
			if err := w.store.SetCell(ctx, w.table, agent, "workload_seconds", next); err != nil {
				return 0, err
			}
			return next, nil
		})
	if err != nil {
		return 0, err
	}
	observability.WorkloadSeconds.WithLabelValues(agent).Set(float64(result))
	return result, nil
}

// Get reads agent's current WorkloadSeconds without taking the lock
// (best-effort read, consistent with RowStore's read-cache staleness
// tolerance — not used for CAS decisions).
func (w *WorkloadCounter) Get(ctx context.Context, agent string) (int64, error) {
	row, found, err := w.store.ReadRow(ctx, w.table, agent)
	if err != nil || !found {
		return 0, err
	}
	return toInt64(row["workload_seconds"]), nil
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
