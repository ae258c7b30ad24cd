package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	RunKey
)

const CorrelationHeader = "X-Correlation-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// CorrelationID tags every request with an id, taken from the request header
// when present, and logs its start and completion.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := WithCorrelationID(r.Context(), id)
		w.Header().Set(CorrelationHeader, id)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start)) // #nosec G706
	})
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// WithRunID marks ctx as belonging to an ingestion run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunKey, id)
}

func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(RunKey).(string)
	return id
}
