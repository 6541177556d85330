package lockmanager

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/observability"
)

// Janitor periodically scans lock keys and force-releases ones that have
// outlived STALE_THRESHOLD past their ExpiresAt, independent of the
// inline takeover check Acquire performs. Grounded directly on
// control_plane/coordination/janitor.go.
type Janitor struct {
	backend  Backend
	pattern  string
	interval time.Duration
}

func NewJanitor(backend Backend, keyPattern string, interval time.Duration) *Janitor {
	return &Janitor{backend: backend, pattern: keyPattern, interval: interval}
}

func (j *Janitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *Janitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass immediately; exported so a scheduler tick or a test
// can invoke it without waiting for the ticker.
func (j *Janitor) Sweep(ctx context.Context) {
	keys, err := j.backend.Scan(ctx, j.pattern)
	if err != nil {
		log.Warn().Err(err).Msg("lockmanager janitor: scan failed")
		return
	}

	now := time.Now()
	for _, key := range keys {
		raw, err := j.backend.Get(ctx, key)
		if err != nil || raw == "" {
			continue
		}
		rec, err := decode(raw)
		if err != nil {
			log.Warn().Str("key", key).Msg("lockmanager janitor: undecodable record")
			continue
		}

		if now.After(rec.ExpiresAt.Add(StaleThreshold)) {
			if err := j.backend.Release(ctx, key, raw); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("lockmanager janitor: release failed")
				continue
			}
			observability.LockTakeovers.WithLabelValues("janitor").Inc()
			log.Warn().Str("key", key).Str("holder", rec.HolderID).Msg("lockmanager janitor: reclaimed stale lock")
		}
	}
}
