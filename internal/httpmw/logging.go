package httpmw

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// responseRecorder captures the status code so RequestLogger can report
// it after the handler returns, grounded on API.responseRecorder.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs one structured line per request (method, path,
// status, duration), consolidating the teacher's ad hoc log.Printf
// call-sites in api.go into a single middleware.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
