package source

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"scuolakb/internal/document"
	"scuolakb/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sources, err := h.service.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list sources", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list sources", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": sources,
		"meta": map[string]int{"count": len(sources)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	docs, err := h.service.Documents(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(ctx, w, "NOT_FOUND", "Source not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to list documents", "source", name, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []document.Fetched{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": docs,
		"meta": map[string]int{"count": len(docs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
