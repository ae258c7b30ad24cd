package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"scuolakb/features/run"
	"scuolakb/internal/middleware"
)

type Index interface {
	Count(ctx context.Context) (int, error)
}

type Ledger interface {
	Len() int
}

type RunRepo interface {
	Latest(ctx context.Context) (*run.Run, error)
}

type FailureRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	index    Index
	ledger   Ledger
	runs     RunRepo
	failures FailureRepo
}

// NewHandler builds the stats handler. runs and failures may be nil when no
// run history is kept.
func NewHandler(idx Index, l Ledger, runs RunRepo, failures FailureRepo) *Handler {
	return &Handler{index: idx, ledger: l, runs: runs, failures: failures}
}

type StatsResponse struct {
	Chunks    int      `json:"chunks"`
	Documents int      `json:"documents"`
	Failures  int      `json:"failures"`
	LatestRun *run.Run `json:"latest_run"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	chunks, err := h.index.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INDEX_UNAVAILABLE", "failed to count chunks", http.StatusServiceUnavailable)
		return
	}

	resp := StatsResponse{Chunks: chunks, Documents: h.ledger.Len()}

	if h.failures != nil {
		if resp.Failures, err = h.failures.Count(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to count failures", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count failures", http.StatusInternalServerError)
			return
		}
	}

	if h.runs != nil {
		if resp.LatestRun, err = h.runs.Latest(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to load latest run", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to load latest run", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
