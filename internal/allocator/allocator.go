// Package allocator implements the least-loaded workload allocator (C6,
// spec.md §4.6) and its two serialized counters, WorkloadCounter (C7) and
// RequestNumberCounter (§4.7). Grounded on control_plane/scheduler's
// NodeHealth-driven dispatch scoring, generalized from a weighted
// composite health score to spec.md's matrix/BAU/default allocation
// precedence with round-robin tie-breaking.
package allocator

import (
	"context"

	"github.com/itskum47/mdmflow/internal/configcache"
	"github.com/itskum47/mdmflow/internal/observability"
	"github.com/itskum47/mdmflow/internal/rowstore"
)

// AgentStatus is what Allocator needs to know about a candidate agent.
type AgentStatus struct {
	Active          bool
	Free            bool
	WorkloadSeconds int64
}

// Allocator picks an assignee for a request, per spec.md §4.6.
type Allocator struct {
	cc           *configcache.ConfigCache
	store        rowstore.Store
	rr           *RoundRobinCursor
	defaultAgent string
	agentsTable  string
}

func New(cc *configcache.ConfigCache, store rowstore.Store, rr *RoundRobinCursor, defaultAgent string) *Allocator {
	return &Allocator{cc: cc, store: store, rr: rr, defaultAgent: defaultAgent, agentsTable: "Agents"}
}

func (a *Allocator) agentStatus(ctx context.Context, name string) (AgentStatus, bool, error) {
	row, found, err := a.store.ReadRow(ctx, a.agentsTable, name)
	if err != nil || !found {
		return AgentStatus{}, found, err
	}
	active, _ := row["active"].(bool)
	free, _ := row["free"].(bool)
	return AgentStatus{Active: active, Free: free, WorkloadSeconds: toInt64(row["workload_seconds"])}, true, nil
}

// Allocate returns the opaque agent name assigned to handle a request
// for (businessUnit, department, requestType). Every path that runs out
// of candidates returns the configured default agent; an error is
// returned only when reading the config, an agent row, or the
// round-robin cursor fails.
func (a *Allocator) Allocate(ctx context.Context, businessUnit, department, requestType string) (string, error) {
	if department == "SPECIAL PROJECT" {
		observability.AllocationDecisions.WithLabelValues("special_project", "none").Inc()
		return a.defaultAgent, nil
	}

	if agent, tiebreak, ok, err := a.matrixPath(ctx, requestType); err != nil {
		return "", err
	} else if ok {
		observability.AllocationDecisions.WithLabelValues("matrix", tiebreak).Inc()
		return agent, nil
	}

	if agent, tiebreak, ok, err := a.bauPath(ctx, businessUnit, department, requestType); err != nil {
		return "", err
	} else if ok {
		observability.AllocationDecisions.WithLabelValues("bau", tiebreak).Inc()
		return agent, nil
	}

	observability.AllocationDecisions.WithLabelValues("default", "none").Inc()
	return a.defaultAgent, nil
}

// matrixPath implements the primary allocation path over the
// DistributionMatrix: filter to free agents, return the unique least-
// loaded one, or round-robin among ties.
func (a *Allocator) matrixPath(ctx context.Context, requestType string) (string, string, bool, error) {
	candidates, err := a.cc.DistributionAgents(ctx, requestType)
	if err != nil || len(candidates) == 0 {
		return "", "", false, err
	}

	var free []string
	loads := make(map[string]int64, len(candidates))
	for _, name := range candidates {
		status, found, err := a.agentStatus(ctx, name)
		if err != nil {
			return "", "", false, err
		}
		if !found || !status.Free {
			continue
		}
		free = append(free, name)
		loads[name] = status.WorkloadSeconds
	}
	if len(free) == 0 {
		return "", "", false, nil
	}

	tied := leastLoaded(free, loads)
	if len(tied) == 1 {
		return tied[0], "single", true, nil
	}
	idx, err := a.rr.Next(ctx, "dist:"+requestType)
	if err != nil {
		return "", "", false, err
	}
	return tied[idx%len(tied)], "round_robin", true, nil
}

// bauPath implements the BAU fallback: iterate ordered candidate groups,
// returning the least-loaded candidate of the first group with any free
// member.
func (a *Allocator) bauPath(ctx context.Context, businessUnit, department, requestType string) (string, string, bool, error) {
	groups, found, err := a.cc.WorkAllocation(ctx, businessUnit, department, requestType)
	if err != nil || !found {
		return "", "", false, err
	}

	for _, group := range groups {
		var free []string
		loads := make(map[string]int64, len(group))
		for _, name := range group {
			status, found, err := a.agentStatus(ctx, name)
			if err != nil {
				return "", "", false, err
			}
			if !found || !status.Active || !status.Free {
				continue
			}
			free = append(free, name)
			loads[name] = status.WorkloadSeconds
		}
		if len(free) == 0 {
			continue
		}
		tied := leastLoaded(free, loads)
		if len(tied) == 1 {
			return tied[0], "single", true, nil
		}
		idx, err := a.rr.Next(ctx, "bau:"+requestType)
		if err != nil {
			return "", "", false, err
		}
		return tied[idx%len(tied)], "round_robin", true, nil
	}
	return "", "", false, nil
}

func leastLoaded(names []string, loads map[string]int64) []string {
	min := loads[names[0]]
	for _, n := range names {
		if loads[n] < min {
			min = loads[n]
		}
	}
	var tied []string
	for _, n := range names {
		if loads[n] == min {
			tied = append(tied, n)
		}
	}
	return tied
}
