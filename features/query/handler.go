package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"scuolakb/internal/middleware"
	"scuolakb/internal/retrieval"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

type Handler struct {
	retriever Retriever
}

func NewHandler(r Retriever) *Handler {
	return &Handler{retriever: r}
}

// Response carries the formatted answer and the raw ranked results.
type Response struct {
	Answer   retrieval.Answer   `json:"answer"`
	Markdown string             `json:"markdown"`
	Results  []retrieval.Result `json:"results"`
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	q := r.URL.Query().Get("q")

	topK := 0
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "top_k must be a positive integer", http.StatusBadRequest)
			return
		}
		topK = n
	}

	results, err := h.retriever.Retrieve(ctx, q, topK)
	switch {
	case errors.Is(err, retrieval.ErrQueryTooShort):
		h.writeError(ctx, w, "QUERY_TOO_SHORT", "Per favore scrivi una domanda più specifica.", http.StatusBadRequest)
		return
	case errors.Is(err, retrieval.ErrIndexUnavailable):
		slog.WarnContext(ctx, "index unavailable", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INDEX_UNAVAILABLE", "knowledge base not loaded", http.StatusServiceUnavailable)
		return
	case err != nil:
		slog.ErrorContext(ctx, "retrieval failed", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "retrieval failed", http.StatusInternalServerError)
		return
	}

	if results == nil {
		results = []retrieval.Result{}
	}
	answer := retrieval.FormatAnswer(q, results)

	w.Header().Set("Content-Type", "application/json")
	resp := Response{Answer: answer, Markdown: answer.Markdown(), Results: results}
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
