package middleware

import (
	"net/http"
	"regexp"
	"time"

	"github.com/essaygrader/hub/internal/observability"
)

// UUID path segment, e.g. /v1/answer-keys/0190b0c0-0000-7000-8000-0000000000a1.
var uuidSegmentRegex = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}(/|$)`)

// Metrics records request count and duration. A nil metrics disables recording.
func Metrics(metrics observability.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newStatusRecorder(w)

			next.ServeHTTP(rw, r)

			metrics.RecordRequest(r.Context(), r.Method, normalizeRoute(r.URL.Path),
				observability.StatusClass(rw.status), time.Since(start))
		})
	}
}

// normalizeRoute replaces UUID path segments with {id} to bound cardinality.
func normalizeRoute(path string) string {
	return uuidSegmentRegex.ReplaceAllString(path, "/{id}$1")
}

// statusRecorder remembers the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter

	status int
	bytes  int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n

	return n, err //nolint:wrapcheck // passthrough writer
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
