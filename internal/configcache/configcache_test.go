package configcache

import (
	"context"
	"testing"
)

type fakeSource struct {
	approvers   []ApproverRule
	baselines   []BaselineRule
	workAlloc   []WorkAllocationRule
	matrix      map[string][]string
	weights     []PriorityWeight
	loadCalls   map[relationName]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{loadCalls: make(map[relationName]int)}
}

func (f *fakeSource) LoadApprovers(ctx context.Context) ([]ApproverRule, error) {
	f.loadCalls[relApprovers]++
	return f.approvers, nil
}
func (f *fakeSource) LoadBaselines(ctx context.Context) ([]BaselineRule, error) {
	f.loadCalls[relBaselines]++
	return f.baselines, nil
}
func (f *fakeSource) LoadWorkAllocation(ctx context.Context) ([]WorkAllocationRule, error) {
	f.loadCalls[relWorkAlloc]++
	return f.workAlloc, nil
}
func (f *fakeSource) LoadDistributionMatrix(ctx context.Context) (map[string][]string, error) {
	f.loadCalls[relDistribution]++
	return f.matrix, nil
}
func (f *fakeSource) LoadPriorityWeights(ctx context.Context) ([]PriorityWeight, error) {
	f.loadCalls[relPriorityWeights]++
	return f.weights, nil
}

func TestApproversExactMatchWins(t *testing.T) {
	src := newFakeSource()
	src.approvers = []ApproverRule{
		{BusinessUnit: "BU1", Department: "Sales", RequestType: "BOM", Level: 1, Approvers: []string{"sales@x.com"}},
		{BusinessUnit: "BU1", Department: "ALL", RequestType: "ALL", Level: 1, Approvers: []string{"default@x.com"}},
	}
	c := New(src)

	got, err := c.Approvers(context.Background(), "BU1", "Sales", "BOM", 1, true)
	if err != nil {
		t.Fatalf("approvers: %v", err)
	}
	if len(got) != 1 || got[0] != "sales@x.com" {
		t.Fatalf("expected exact match to win, got %v", got)
	}
}

func TestApproversFallsBackThroughPriorityOrder(t *testing.T) {
	src := newFakeSource()
	src.approvers = []ApproverRule{
		{BusinessUnit: "BU1", Department: "ALL", RequestType: "ALL", Level: 1, Approvers: []string{"default@x.com"}},
	}
	c := New(src)

	got, err := c.Approvers(context.Background(), "BU1", "Sales", "BOM", 1, true)
	if err != nil {
		t.Fatalf("approvers: %v", err)
	}
	if len(got) != 1 || got[0] != "default@x.com" {
		t.Fatalf("expected default fallback match, got %v", got)
	}
}

func TestApproversNoFallbackWithoutUseDefault(t *testing.T) {
	src := newFakeSource()
	src.approvers = []ApproverRule{
		{BusinessUnit: "BU1", Department: "ALL", RequestType: "ALL", Level: 1, Approvers: []string{"default@x.com"}},
	}
	c := New(src)

	got, err := c.Approvers(context.Background(), "BU1", "Sales", "BOM", 1, false)
	if err != nil {
		t.Fatalf("approvers: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no match without useDefault, got %v", got)
	}
}

func TestApproversNoApproverSentinelMeansAutoApprove(t *testing.T) {
	src := newFakeSource()
	src.approvers = []ApproverRule{
		{BusinessUnit: "BU1", Department: "Sales", RequestType: "BOM", Level: 2, Approvers: []string{NoApprover}},
	}
	c := New(src)

	got, err := c.Approvers(context.Background(), "BU1", "Sales", "BOM", 2, true)
	if err != nil {
		t.Fatalf("approvers: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected NO_APPROVER sentinel to yield empty list, got %v", got)
	}
}

func TestBaselineRangeMatch(t *testing.T) {
	src := newFakeSource()
	src.baselines = []BaselineRule{
		{RequestType: "BOM", Min: 0, Max: 10, Seconds: 60, IsPerTask: true},
		{RequestType: "BOM", Min: 11, Max: -1, Seconds: 3600, IsPerTask: false},
	}
	c := New(src)

	sec, perTask, found, err := c.Baseline(context.Background(), "BOM", 5)
	if err != nil || !found {
		t.Fatalf("expected match, found=%v err=%v", found, err)
	}
	if sec != 60 || !perTask {
		t.Fatalf("unexpected baseline: %d %v", sec, perTask)
	}

	sec2, perTask2, found2, err := c.Baseline(context.Background(), "BOM", 500)
	if err != nil || !found2 {
		t.Fatalf("expected unbounded match, found=%v err=%v", found2, err)
	}
	if sec2 != 3600 || perTask2 {
		t.Fatalf("unexpected unbounded baseline: %d %v", sec2, perTask2)
	}
}

func TestBaselineNoMatchIsNotAnError(t *testing.T) {
	src := newFakeSource()
	c := New(src)

	_, _, found, err := c.Baseline(context.Background(), "Unknown", 5)
	if err != nil {
		t.Fatalf("expected no error on missing baseline, got %v", err)
	}
	if found {
		t.Fatal("expected found=false for an unconfigured request type")
	}
}

func TestRelationIsCachedWithinTTL(t *testing.T) {
	src := newFakeSource()
	src.baselines = []BaselineRule{{RequestType: "BOM", Min: 0, Max: -1, Seconds: 10}}
	c := New(src)
	ctx := context.Background()

	if _, _, _, err := c.Baseline(ctx, "BOM", 1); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, _, _, err := c.Baseline(ctx, "BOM", 1); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if src.loadCalls[relBaselines] != 1 {
		t.Fatalf("expected a single underlying load within TTL, got %d", src.loadCalls[relBaselines])
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	src := newFakeSource()
	src.baselines = []BaselineRule{{RequestType: "BOM", Min: 0, Max: -1, Seconds: 10}}
	c := New(src)
	ctx := context.Background()

	if _, _, _, err := c.Baseline(ctx, "BOM", 1); err != nil {
		t.Fatalf("first call: %v", err)
	}
	c.Invalidate(string(relBaselines))
	if _, _, _, err := c.Baseline(ctx, "BOM", 1); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if src.loadCalls[relBaselines] != 2 {
		t.Fatalf("expected invalidate to force a reload, got %d loads", src.loadCalls[relBaselines])
	}
}

func TestDistributionMatrixLookup(t *testing.T) {
	src := newFakeSource()
	src.matrix = map[string][]string{"BOM": {"agent1", "agent2"}}
	c := New(src)

	agents, err := c.DistributionAgents(context.Background(), "BOM")
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %v", agents)
	}
}

func TestWorkAllocationFallsBackThroughPriorityOrder(t *testing.T) {
	src := newFakeSource()
	src.workAlloc = []WorkAllocationRule{
		{BusinessUnit: "BU1", Department: "ALL", RequestType: "ALL", Groups: [][]string{{"generic"}}},
		{BusinessUnit: "BU1", Department: "Sales", RequestType: "BOM", Groups: [][]string{{"specific"}, {"backup1", "backup2"}}},
	}
	c := New(src)

	groups, found, err := c.WorkAllocation(context.Background(), "BU1", "Ops", "BOM")
	if err != nil || !found {
		t.Fatalf("expected fallback match, found=%v err=%v", found, err)
	}
	if len(groups) != 1 || groups[0][0] != "generic" {
		t.Fatalf("expected generic fallback, got %v", groups)
	}

	groups2, found2, err := c.WorkAllocation(context.Background(), "BU1", "Sales", "BOM")
	if err != nil || !found2 {
		t.Fatalf("expected specific match, found=%v err=%v", found2, err)
	}
	if len(groups2) != 2 || groups2[0][0] != "specific" {
		t.Fatalf("expected specific ordered groups, got %v", groups2)
	}
}
