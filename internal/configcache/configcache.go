package configcache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/observability"
)

const (
	relationTTL    = 5 * time.Minute
	distributionTTL = 6 * time.Hour
)

// Source loads the five configuration relations from their backing
// tables (RowStore in production, a fake in tests). ConfigCache never
// talks to a table directly; it only memoizes what Source returns.
type Source interface {
	LoadApprovers(ctx context.Context) ([]ApproverRule, error)
	LoadBaselines(ctx context.Context) ([]BaselineRule, error)
	LoadWorkAllocation(ctx context.Context) ([]WorkAllocationRule, error)
	LoadDistributionMatrix(ctx context.Context) (map[string][]string, error)
	LoadPriorityWeights(ctx context.Context) ([]PriorityWeight, error)
}

type relationName string

const (
	relApprovers     relationName = "approvers"
	relBaselines     relationName = "baselines"
	relWorkAlloc     relationName = "work_allocation"
	relDistribution  relationName = "distribution"
	relPriorityWeights relationName = "priority_weights"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// ConfigCache is the C3 component: memoized lookup over the five
// relations, each on its own TTL (approvers/baselines/work-allocation/
// priority-weights ~= 5 min, distribution matrix ~= 6 h per spec.md
// §4.3), refreshable on demand via Invalidate.
type ConfigCache struct {
	source Source

	mu      sync.RWMutex
	entries map[relationName]entry
}

func New(source Source) *ConfigCache {
	return &ConfigCache{source: source, entries: make(map[relationName]entry)}
}

// Invalidate forces the named relation to be reloaded on next access,
// bypassing TTL. No admin route or webhook in this module calls it; it is
// exported for callers that need to force a reload before the TTL ends.
func (c *ConfigCache) Invalidate(relation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, relationName(relation))
}

func (c *ConfigCache) get(ctx context.Context, name relationName, ttl time.Duration, load func(context.Context) (any, error)) (any, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		observability.ConfigCacheRefreshes.WithLabelValues(string(name), "cache_hit").Inc()
		return e.value, nil
	}

	val, err := load(ctx)
	if err != nil {
		observability.ConfigCacheRefreshes.WithLabelValues(string(name), "load_error").Inc()
		// Configuration-load failure: if we have a stale value, prefer it
		// over failing the caller outright.
		if ok {
			log.Warn().Err(err).Str("relation", string(name)).Msg("configcache: reload failed, serving stale value")
			return e.value, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[name] = entry{value: val, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	observability.ConfigCacheRefreshes.WithLabelValues(string(name), "refreshed").Inc()
	return val, nil
}

func (c *ConfigCache) approvers(ctx context.Context) ([]ApproverRule, error) {
	v, err := c.get(ctx, relApprovers, relationTTL, func(ctx context.Context) (any, error) {
		return c.source.LoadApprovers(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]ApproverRule), nil
}

func (c *ConfigCache) baselines(ctx context.Context) ([]BaselineRule, error) {
	v, err := c.get(ctx, relBaselines, relationTTL, func(ctx context.Context) (any, error) {
		return c.source.LoadBaselines(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]BaselineRule), nil
}

func (c *ConfigCache) workAllocation(ctx context.Context) ([]WorkAllocationRule, error) {
	v, err := c.get(ctx, relWorkAlloc, relationTTL, func(ctx context.Context) (any, error) {
		return c.source.LoadWorkAllocation(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]WorkAllocationRule), nil
}

func (c *ConfigCache) distributionMatrix(ctx context.Context) (map[string][]string, error) {
	v, err := c.get(ctx, relDistribution, distributionTTL, func(ctx context.Context) (any, error) {
		return c.source.LoadDistributionMatrix(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string][]string), nil
}

func (c *ConfigCache) priorityWeights(ctx context.Context) ([]PriorityWeight, error) {
	v, err := c.get(ctx, relPriorityWeights, relationTTL, func(ctx context.Context) (any, error) {
		return c.source.LoadPriorityWeights(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]PriorityWeight), nil
}

// NoApprover is the sentinel meaning "level auto-approved" (spec.md I2).
const NoApprover = "NO_APPROVER"

// Approvers returns the approver list for (businessUnit, department,
// requestType, level), trying keys in priority order per spec.md §4.3:
// exact match; then (if useDefault) Department->ALL; then
// RequestType->ALL; then both->ALL. Returns the first non-empty match.
// A list that literally contains NoApprover is returned as an empty
// list (auto-approve).
func (c *ConfigCache) Approvers(ctx context.Context, businessUnit, department, requestType string, level int, useDefault bool) ([]string, error) {
	rules, err := c.approvers(ctx)
	if err != nil {
		return nil, err
	}

	candidates := [][2]string{{department, requestType}}
	if useDefault {
		candidates = append(candidates,
			[2]string{"ALL", requestType},
			[2]string{department, "ALL"},
			[2]string{"ALL", "ALL"},
		)
	}

	for _, cand := range candidates {
		for _, r := range rules {
			if r.BusinessUnit == businessUnit && r.Department == cand[0] && r.RequestType == cand[1] && r.Level == level {
				for _, a := range r.Approvers {
					if a == NoApprover {
						return nil, nil
					}
				}
				if len(r.Approvers) > 0 {
					return r.Approvers, nil
				}
			}
		}
	}
	return nil, nil
}

// Baseline returns (seconds, isPerTask) for (requestType, totalTask),
// scanning for the rule whose [Min,Max] range contains totalTask
// (Max==-1 meaning unbounded). Returns found=false if no rule matches —
// the caller treats this as "continue with no estimated time", not an
// error (spec.md §4.3, §7 configuration-error policy).
func (c *ConfigCache) Baseline(ctx context.Context, requestType string, totalTask int) (seconds int64, isPerTask bool, found bool, err error) {
	rules, err := c.baselines(ctx)
	if err != nil {
		return 0, false, false, err
	}
	for _, r := range rules {
		if r.RequestType != requestType {
			continue
		}
		if totalTask < r.Min {
			continue
		}
		if r.Max >= 0 && totalTask > r.Max {
			continue
		}
		return r.Seconds, r.IsPerTask, true, nil
	}
	return 0, false, false, nil
}

// DistributionAgents returns the eligible-agent set for requestType from
// the 6h-TTL distribution matrix.
func (c *ConfigCache) DistributionAgents(ctx context.Context, requestType string) ([]string, error) {
	m, err := c.distributionMatrix(ctx)
	if err != nil {
		return nil, err
	}
	return m[requestType], nil
}

// WorkAllocation returns the ordered candidate groups for
// (businessUnit, department, requestType), trying keys in the same
// priority order as Approvers: exact; Department->ALL; RequestType->ALL;
// both->ALL. Returns the first match with a non-empty Groups list.
func (c *ConfigCache) WorkAllocation(ctx context.Context, businessUnit, department, requestType string) ([][]string, bool, error) {
	rules, err := c.workAllocation(ctx)
	if err != nil {
		return nil, false, err
	}

	candidates := [][2]string{
		{department, requestType},
		{"ALL", requestType},
		{department, "ALL"},
		{"ALL", "ALL"},
	}
	for _, cand := range candidates {
		for _, r := range rules {
			if r.BusinessUnit == businessUnit && r.Department == cand[0] && r.RequestType == cand[1] && len(r.Groups) > 0 {
				return r.Groups, true, nil
			}
		}
	}
	return nil, false, nil
}

// PriorityWeight returns the configured weight for requestType, or 0 if
// unconfigured. Allocator does not read it; its ties go to the
// round-robin cursor.
func (c *ConfigCache) PriorityWeight(ctx context.Context, requestType string) (int, error) {
	rules, err := c.priorityWeights(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range rules {
		if r.RequestType == requestType {
			return r.Weight, nil
		}
	}
	return 0, nil
}
