package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/simatei/kpi/internal/metrics"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-Id"

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Logger assigns each request a ULID, logs it when done and counts it.
func Logger(logger *log.Logger, m *metrics.Registry) func(http.Handler) http.Handler {
	logger = logger.WithPrefix("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := ulid.Make().String()
			w.Header().Set(RequestIDHeader, id)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

			m.ObserveHTTP(r.Method, sw.status)
			logger.Info("request",
				"id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start).Round(time.Millisecond),
			)
		})
	}
}
