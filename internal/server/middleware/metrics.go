package middleware

import (
	"net/http"
	"regexp"
	"time"

	"github.com/giantswarm/discord-gate/internal/instrumentation"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// newResponseWriter creates a new responseWriter wrapper.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // Default status code
	}
}

// WriteHeader captures the status code before writing the header.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures that a response was written.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter to support http.Flusher etc.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HTTPMetrics creates middleware that records HTTP request metrics.
// It records the total number of requests and request duration for each
// method/path/status combination.
//
// Paths are normalized to keep cardinality bounded: snowflake and other
// numeric ids become :id, UUIDs become :uuid, long opaque segments become
// :token.
//
// The provider parameter can be nil, in which case the middleware is a no-op
// that just passes through to the next handler.
func HTTPMetrics(provider *instrumentation.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !provider.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			provider.Metrics().RecordHTTPRequest(
				r.Context(),
				r.Method,
				normalizePath(r.URL.Path),
				wrapped.statusCode,
				time.Since(start),
			)
		})
	}
}

// Regex patterns for path normalization to control metric cardinality
var (
	// UUID pattern (e.g., 550e8400-e29b-41d4-a716-446655440000)
	uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

	// Numeric path segments, Discord snowflakes included
	numericIDPattern = regexp.MustCompile(`/\d+(/|$)`)

	// Opaque segments such as tokens or hashes
	opaqueSegmentPattern = regexp.MustCompile(`/[A-Za-z0-9_-]{24,}(/|$)`)
)

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	path = uuidPattern.ReplaceAllString(path, ":uuid")

	// ReplaceAll does not revisit the shared slash, so run until stable.
	for {
		next := numericIDPattern.ReplaceAllString(path, "/:id$1")
		if next == path {
			break
		}
		path = next
	}

	for {
		next := opaqueSegmentPattern.ReplaceAllString(path, "/:token$1")
		if next == path {
			break
		}
		path = next
	}

	return path
}
