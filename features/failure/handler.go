package failure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"scuolakb/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "listing failures", "correlationId", correlationID)

	failures, err := h.service.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list failures", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list failures", http.StatusInternalServerError)
		return
	}

	if failures == nil {
		failures = []Failure{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": failures,
		"meta": map[string]int{"count": len(failures)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	slog.InfoContext(ctx, "retrying failure", "id", id, "correlationId", correlationID)

	if err := h.service.Retry(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(ctx, w, "NOT_FOUND", "failure not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to retry failure", "id", id, "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to retry", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": "queued for next run"}); err != nil {
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
