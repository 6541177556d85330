package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/rowstore"
)

// IdempotencyKeyHeader is the header POST /request clients set to make a
// resubmitted request return the original response instead of minting a
// second RequestNumber (spec.md's handleOnSubmit idempotence, surfaced
// at the HTTP boundary).
const IdempotencyKeyHeader = "X-Idempotency-Key"

// storedResponse is what IdempotencyStore persists per key, grounded on
// idempotency.Response.
type storedResponse struct {
	StatusCode int                 `json:"status_code"`
	Body       []byte              `json:"body"`
	Headers    map[string][]string `json:"headers"`
}

// IdempotencyStore caches HTTP responses by client-supplied key. Grounded
// on idempotency.Store's Redis-backed/in-memory-fallback split.
type IdempotencyStore struct {
	cache rowstore.Cache
	mem   sync.Map
	ttl   time.Duration
}

func NewIdempotencyStore(cache rowstore.Cache) *IdempotencyStore {
	return &IdempotencyStore{cache: cache, ttl: 24 * time.Hour}
}

func (s *IdempotencyStore) get(ctx context.Context, key string) (storedResponse, bool) {
	if s.cache != nil {
		val, found, err := s.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("idempotency: cache get failed")
			return storedResponse{}, false
		}
		if !found {
			return storedResponse{}, false
		}
		var resp storedResponse
		if err := json.Unmarshal([]byte(val), &resp); err != nil {
			return storedResponse{}, false
		}
		return resp, true
	}

	v, ok := s.mem.Load(key)
	if !ok {
		return storedResponse{}, false
	}
	return v.(storedResponse), true
}

func (s *IdempotencyStore) set(ctx context.Context, key string, resp storedResponse) {
	if s.cache != nil {
		bytes, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if err := s.cache.Set(ctx, key, string(bytes), s.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("idempotency: cache set failed")
		}
		return
	}
	s.mem.Store(key, resp)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// withIdempotency replays the cached response for a repeated
// X-Idempotency-Key instead of invoking next a second time. Grounded on
// API.withIdempotency.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next(w, r)
			return
		}

		if resp, found := a.idempotency.get(r.Context(), key); found {
			for k, vs := range resp.Headers {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		a.idempotency.set(r.Context(), key, storedResponse{
			StatusCode: rec.status,
			Body:       rec.body,
			Headers:    rec.Header(),
		})
	}
}
