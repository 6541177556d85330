package httpmw

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/itskum47/mdmflow/internal/observability"
)

// CallerLimiter is a per-key token bucket limiter, one bucket per caller
// (here, the caller's remote address). Grounded on
// scheduler.TokenBucketLimiter's lazily-created per-key *rate.Limiter map.
type CallerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// NewCallerLimiter builds a limiter allowing r requests/second per caller
// key, with burst b.
func NewCallerLimiter(r float64, b int) *CallerLimiter {
	return &CallerLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

func (l *CallerLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter.Allow()
}

// RateLimit builds middleware that rejects a caller (keyed by
// RemoteAddr) with 429 once it exhausts its token bucket, protecting
// the public submission endpoints from a single runaway caller.
func RateLimit(limiter *CallerLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(r.RemoteAddr) {
				observability.APIRateLimited.WithLabelValues(r.URL.Path).Inc()
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
