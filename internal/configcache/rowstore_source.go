package configcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/itskum47/mdmflow/internal/rowstore"
)

// RowStoreSource loads the five configuration relations from the
// `Approvers`, `Baseline`, `Work Allocation`, `Distribution` and
// `Priority Weight` tables (spec.md's "five external tables, all
// read-only from the core's perspective"), via the same rowstore.Store
// used for request data.
type RowStoreSource struct {
	store rowstore.Store
}

func NewRowStoreSource(store rowstore.Store) *RowStoreSource {
	return &RowStoreSource{store: store}
}

func (s *RowStoreSource) scanAll(ctx context.Context, table string) ([]rowstore.Record, error) {
	ids, err := s.store.ScanNeedingAdvancement(ctx, table, 0, 1)
	if err != nil {
		return nil, err
	}
	rows := make([]rowstore.Record, 0, len(ids))
	for _, id := range ids {
		row, found, err := s.store.ReadRow(ctx, table, id)
		if err != nil {
			return nil, err
		}
		if found {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func str(r rowstore.Record, col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func (s *RowStoreSource) LoadApprovers(ctx context.Context) ([]ApproverRule, error) {
	rows, err := s.scanAll(ctx, "Approvers")
	if err != nil {
		return nil, err
	}
	rules := make([]ApproverRule, 0, len(rows))
	for _, r := range rows {
		level, _ := strconv.Atoi(str(r, "level"))
		var approvers []string
		if raw := str(r, "approvers"); raw != "" {
			for _, a := range strings.Split(raw, ",") {
				a = strings.TrimSpace(a)
				if a != "" {
					approvers = append(approvers, a)
				}
			}
		}
		rules = append(rules, ApproverRule{
			BusinessUnit: str(r, "business_unit"),
			Department:   str(r, "department"),
			RequestType:  str(r, "request_type"),
			Level:        level,
			Approvers:    approvers,
		})
	}
	return rules, nil
}

func (s *RowStoreSource) LoadBaselines(ctx context.Context) ([]BaselineRule, error) {
	rows, err := s.scanAll(ctx, "Baseline")
	if err != nil {
		return nil, err
	}
	rules := make([]BaselineRule, 0, len(rows))
	for _, r := range rows {
		min, _ := strconv.Atoi(str(r, "min"))
		max := -1
		if maxStr := strings.TrimSpace(str(r, "max")); maxStr != "" && !strings.HasSuffix(maxStr, "+") {
			max, _ = strconv.Atoi(maxStr)
		}
		seconds, _ := strconv.ParseInt(str(r, "seconds"), 10, 64)
		isPerTask := str(r, "is_per_task") == "true"
		rules = append(rules, BaselineRule{
			RequestType: str(r, "request_type"),
			Min:         min,
			Max:         max,
			Seconds:     seconds,
			IsPerTask:   isPerTask,
		})
	}
	return rules, nil
}

func (s *RowStoreSource) LoadWorkAllocation(ctx context.Context) ([]WorkAllocationRule, error) {
	rows, err := s.scanAll(ctx, "Work Allocation")
	if err != nil {
		return nil, err
	}
	rules := make([]WorkAllocationRule, 0, len(rows))
	for _, r := range rows {
		var groups [][]string
		// "agents" cell: ";"-separated groups, each a ","-separated set
		// of tied candidates, per spec.md §4.6's "[primary, backup1,
		// backup2, ...]" ordered-group BAU fallback structure.
		if raw := str(r, "agents"); raw != "" {
			for _, groupRaw := range strings.Split(raw, ";") {
				var group []string
				for _, a := range strings.Split(groupRaw, ",") {
					a = strings.TrimSpace(a)
					if a != "" {
						group = append(group, a)
					}
				}
				if len(group) > 0 {
					groups = append(groups, group)
				}
			}
		}
		rules = append(rules, WorkAllocationRule{
			BusinessUnit: str(r, "business_unit"),
			Department:   str(r, "department"),
			RequestType:  str(r, "request_type"),
			Groups:       groups,
		})
	}
	return rules, nil
}

func (s *RowStoreSource) LoadDistributionMatrix(ctx context.Context) (map[string][]string, error) {
	rows, err := s.scanAll(ctx, "Distribution")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(rows))
	for _, r := range rows {
		rt := str(r, "request_type")
		var agents []string
		if raw := str(r, "agents"); raw != "" {
			for _, a := range strings.Split(raw, ",") {
				a = strings.TrimSpace(a)
				if a != "" {
					agents = append(agents, a)
				}
			}
		}
		out[rt] = agents
	}
	return out, nil
}

func (s *RowStoreSource) LoadPriorityWeights(ctx context.Context) ([]PriorityWeight, error) {
	rows, err := s.scanAll(ctx, "Priority Weight")
	if err != nil {
		return nil, err
	}
	weights := make([]PriorityWeight, 0, len(rows))
	for _, r := range rows {
		w, _ := strconv.Atoi(str(r, "weight"))
		weights = append(weights, PriorityWeight{
			RequestType: str(r, "request_type"),
			Weight:      w,
		})
	}
	return weights, nil
}
