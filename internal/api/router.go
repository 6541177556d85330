package api

import (
	"encoding/json"
	"net/http"

	"github.com/itskum47/mdmflow/internal/authn"
	"github.com/itskum47/mdmflow/internal/httpmw"
	"github.com/itskum47/mdmflow/internal/scheduler"
)

// SchedulerModeSetter is the admin-surface subset of *scheduler.Scheduler
// the router's /admin/mode endpoint drives.
type SchedulerModeSetter interface {
	SetMode(mode scheduler.Mode)
}

// NewRouter assembles the full ServeMux for spec.md §6's external
// interface: the public submission endpoints wrapped in CORS/logging/
// rate-limiting/idempotency, and an admin mode-control endpoint gated
// behind a Bearer token. sched/issuer may be nil in tests that only
// exercise the public routes.
func NewRouter(api *API, sched SchedulerModeSetter, issuer *authn.Issuer) http.Handler {
	mux := http.NewServeMux()

	limiter := httpmw.NewCallerLimiter(50, 100)
	rateLimit := httpmw.RateLimit(limiter)

	mux.Handle("POST /request", rateLimit(http.HandlerFunc(api.withIdempotency(api.HandleSubmitRequest))))
	mux.Handle("POST /update_workload", rateLimit(http.HandlerFunc(api.HandleUpdateWorkload)))

	if sched != nil && issuer != nil {
		mux.Handle("POST /admin/mode", httpmw.RequireRole(issuer, authn.RoleOperator)(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				handleSetMode(w, r, sched)
			},
		)))
	}

	return httpmw.CORS(httpmw.RequestLogger(mux))
}

type setModeBody struct {
	Mode string `json:"mode"`
}

func handleSetMode(w http.ResponseWriter, r *http.Request, sched SchedulerModeSetter) {
	var body setModeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed JSON body", http.StatusBadRequest)
		return
	}

	mode := scheduler.Mode(body.Mode)
	switch mode {
	case scheduler.ModeNormal, scheduler.ModeDegraded, scheduler.ModeReadOnly, scheduler.ModeDraining:
	default:
		http.Error(w, "unrecognized mode", http.StatusBadRequest)
		return
	}

	sched.SetMode(mode)
	w.WriteHeader(http.StatusOK)
}
