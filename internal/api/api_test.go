package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/itskum47/mdmflow/internal/allocator"
	"github.com/itskum47/mdmflow/internal/authn"
	"github.com/itskum47/mdmflow/internal/configcache"
	"github.com/itskum47/mdmflow/internal/lockmanager"
	"github.com/itskum47/mdmflow/internal/notify"
	"github.com/itskum47/mdmflow/internal/requestfsm"
	"github.com/itskum47/mdmflow/internal/rowstore"
	"github.com/itskum47/mdmflow/internal/scheduler"
)

// ---- fakes (mirroring the requestfsm package's test fakes, since these
// interfaces are unexported to that package's test file) ----

type fakeConfigSource struct{}

func (fakeConfigSource) LoadApprovers(ctx context.Context) ([]configcache.ApproverRule, error) {
	return nil, nil
}
func (fakeConfigSource) LoadBaselines(ctx context.Context) ([]configcache.BaselineRule, error) {
	return nil, nil
}
func (fakeConfigSource) LoadWorkAllocation(ctx context.Context) ([]configcache.WorkAllocationRule, error) {
	return nil, nil
}
func (fakeConfigSource) LoadDistributionMatrix(ctx context.Context) (map[string][]string, error) {
	return nil, nil
}
func (fakeConfigSource) LoadPriorityWeights(ctx context.Context) ([]configcache.PriorityWeight, error) {
	return nil, nil
}

type fakeNotifier struct{}

func (fakeNotifier) Notify(ctx context.Context, event notify.Event) error { return nil }

type fakeAttachment struct{}

func (fakeAttachment) ExternalStatus(level int) (string, string, error)      { return "", "", nil }
func (fakeAttachment) ClearExternalStatus(level int, reason string) error    { return nil }
func (fakeAttachment) Exists() bool                                         { return true }
func (fakeAttachment) SetDefaultCells(ctx context.Context, bu, email string) error { return nil }
func (fakeAttachment) GrantApproverScopes(ctx context.Context, level int, emails []string) error {
	return nil
}
func (fakeAttachment) GrantAssigneeScope(ctx context.Context, assignee string) error { return nil }
func (fakeAttachment) Protect(ctx context.Context) error                            { return nil }
func (fakeAttachment) CountTaskRows(ctx context.Context) (int, error)                { return 0, nil }
func (fakeAttachment) Validate(ctx context.Context) (requestfsm.ValidationResult, error) {
	return requestfsm.ValidationResult{}, nil
}

type fakeAttachmentStore struct{}

func (fakeAttachmentStore) Open(ctx context.Context, ref string) (requestfsm.Attachment, error) {
	return fakeAttachment{}, nil
}

func (fakeAttachmentStore) CloneTemplate(ctx context.Context, requestType, businessUnit string) (string, error) {
	return "att-" + requestType, nil
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestAPI(t *testing.T) (*API, rowstore.Store) {
	t.Helper()
	store := rowstore.NewMemoryStore()
	locks := lockmanager.New(lockmanager.NewRedisBackend(newTestRedisClient(t)))
	cc := configcache.New(fakeConfigSource{})
	rr := allocator.NewRoundRobinCursor(newTestRedisClient(t), time.Minute)
	alloc := allocator.New(cc, store, rr, "default-agent")
	workload := allocator.NewWorkloadCounter(locks, store)
	reqnum := allocator.NewRequestNumberCounter(locks, store)
	fsm := requestfsm.New(store, locks, cc, alloc, workload, reqnum, fakeNotifier{}, nil, fakeAttachmentStore{}, requestfsm.DefaultConfig())

	idem := NewIdempotencyStore(nil)
	return New(store, fsm, reqnum, workload, idem), store
}

func TestHandleSubmitRequestRejectsMissingFields(t *testing.T) {
	api, _ := newTestAPI(t)
	body := `{"requestType":"BOM Create"}`
	req := httptest.NewRequest(http.MethodPost, "/request", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	api.HandleSubmitRequest(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleSubmitRequestSuccess(t *testing.T) {
	api, store := newTestAPI(t)
	body := `{"requestType":"BOM Create","emailAddress":"u@x","companyCode":"BU01","companyName":"Retail Unit Alpha","totalTask":5}`
	req := httptest.NewRequest(http.MethodPost, "/request", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	api.HandleSubmitRequest(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp apiResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" {
		t.Fatalf("expected success status, got %q", resp.Status)
	}
	if resp.Data.RequestNumber != "BOM/MDM/Retail Unit Alpha/00001" {
		t.Fatalf("unexpected request number %q", resp.Data.RequestNumber)
	}
	if resp.Data.AttachmentURL == "" {
		t.Fatal("expected an attachment URL in the response")
	}

	cols, err := store.ReadHeaders(context.Background(), "BOM")
	if err != nil {
		t.Fatalf("read headers: %v", err)
	}
	rec, found, err := store.ReadRow(context.Background(), "BOM", "BOM/MDM/Retail Unit Alpha/00001")
	if err != nil || !found {
		t.Fatalf("expected the row to be readable: found=%v err=%v", found, err)
	}
	saved := rowstore.RequestFromRecord(rec, cols)
	if saved.TotalTask != 5 {
		t.Fatalf("expected TotalTask 5, got %d", saved.TotalTask)
	}
}

func TestHandleSubmitRequestIsIdempotentViaHeader(t *testing.T) {
	api, _ := newTestAPI(t)
	router := NewRouter(api, nil, nil)

	body := `{"requestType":"BOM Create","emailAddress":"u@x","companyCode":"BU01","companyName":"Retail Unit Alpha"}`

	req1 := httptest.NewRequest(http.MethodPost, "/request", bytes.NewBufferString(body))
	req1.Header.Set(IdempotencyKeyHeader, "key-1")
	rr1 := httptest.NewRecorder()
	router.ServeHTTP(rr1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/request", bytes.NewBufferString(body))
	req2.Header.Set(IdempotencyKeyHeader, "key-1")
	rr2 := httptest.NewRecorder()
	router.ServeHTTP(rr2, req2)

	if rr1.Body.String() != rr2.Body.String() {
		t.Fatalf("expected identical replayed response, got %q vs %q", rr1.Body.String(), rr2.Body.String())
	}
}

func TestHandleUpdateWorkloadDelegatesToCounter(t *testing.T) {
	api, _ := newTestAPI(t)
	body := `{"mdmName":"agent-a","seconds":300}`
	req := httptest.NewRequest(http.MethodPost, "/update_workload", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	api.HandleUpdateWorkload(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp updateWorkloadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 300 {
		t.Fatalf("expected total 300, got %d", resp.Total)
	}
}

func TestHandleUpdateWorkloadAcceptsExplicitAction(t *testing.T) {
	api, _ := newTestAPI(t)
	body := `{"action":"update_workload","mdmName":"agent-a","seconds":120}`
	req := httptest.NewRequest(http.MethodPost, "/update_workload", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	api.HandleUpdateWorkload(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleUpdateWorkloadRejectsMissingName(t *testing.T) {
	api, _ := newTestAPI(t)
	body := `{"seconds":120}`
	req := httptest.NewRequest(http.MethodPost, "/update_workload", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	api.HandleUpdateWorkload(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestNewRouterGatesAdminRouteBehindAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	sched := scheduler.New(rowstore.NewMemoryStore(), nil, nil, nil, scheduler.DefaultConfig())
	issuer, err := authn.New("this-is-a-32-byte-or-longer-secret!!")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	router := NewRouter(api, sched, issuer)

	req := httptest.NewRequest(http.MethodPost, "/admin/mode", bytes.NewBufferString(`{"mode":"DEGRADED"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}
}
