package run

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"scuolakb/internal/ingest"
	"scuolakb/internal/middleware"
)

// Trigger starts a run without waiting for it.
type Trigger interface {
	Request(ctx context.Context, req ingest.RunRequest) error
}

type Handler struct {
	repo    Repository
	trigger Trigger
}

func NewHandler(repo Repository, t Trigger) *Handler {
	return &Handler{repo: repo, trigger: t}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.repo.List(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": runs,
		"meta": map[string]int{"count": len(runs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Start accepts an optional RunRequest body and hands it to the trigger.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req ingest.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	req.CorrelationID = correlationID

	if err := h.trigger.Request(ctx, req); err != nil {
		slog.ErrorContext(ctx, "failed to trigger run", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to trigger run", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "run requested", "sources", req.Sources, "correlationId", correlationID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": "run requested"}); err != nil {
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
