package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scuolakb/features/source"
	"scuolakb/internal/document"
	"scuolakb/internal/middleware"
	"scuolakb/internal/retrieval"
)

const (
	ToolSearch        = "scuolakb_search"
	ToolListSources   = "scuolakb_list_sources"
	ToolListDocuments = "scuolakb_list_documents"
	ToolReadDocument  = "scuolakb_read_document"

	MaxLimit = 20
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

type SourceCatalog interface {
	List(ctx context.Context) ([]source.Source, error)
	Documents(ctx context.Context, name string) ([]document.Fetched, error)
	Document(ctx context.Context, url string) (document.Fetched, error)
}

type Handler struct {
	retriever    Retriever
	catalog      SourceCatalog
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(r Retriever, c SourceCatalog) *Handler {
	return &Handler{
		retriever: r,
		catalog:   c,
		sessions:  make(map[string]chan string),
	}
}

// JSON-RPC Request types
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

type ListDocumentsArgs struct {
	Source string `json:"source"`
}

type ReadDocumentArgs struct {
	URL string `json:"url"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// JSON-RPC Response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var tools = []Tool{
	{
		Name: ToolSearch,
		Description: `Semantic search over Italian school regulations, circulars and news. Returns up to three excerpts quoted verbatim with title, source, date and link.

USAGE EXAMPLE:
scuolakb_search(query="ferie docenti durante la sospensione delle lezioni", limit=5)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The question, preferably in Italian",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Chunks to retrieve before citations are picked (default from server config).",
					"minimum":     1,
					"maximum":     MaxLimit,
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        ToolListSources,
		Description: `Lists the configured sources with how many documents each one contributed.`,
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
	{
		Name:        ToolListDocuments,
		Description: `Lists the documents fetched from one source, newest first. Use the source name returned by scuolakb_list_sources.`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"source": map[string]string{
					"type":        "string",
					"description": "The source name",
				},
			},
			"required": []string{"source"},
		},
	},
	{
		Name:        ToolReadDocument,
		Description: `Returns the full extracted text of a fetched document by URL. Use it when a search excerpt is not enough.`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]string{
					"type":        "string",
					"description": "The document URL",
				},
			},
			"required": []string{"url"},
		},
	},
}

// processRequest returns nil for notifications.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "scuolakb-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}
		return h.callTool(ctx, req.ID, params)
	}

	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	switch params.Name {
	case ToolSearch:
		var args SearchArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			resp := makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
			return &resp
		}
		if strings.TrimSpace(args.Query) == "" {
			resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
			return &resp
		}
		limit := 0
		if args.Limit != nil {
			if *args.Limit < 1 || *args.Limit > MaxLimit {
				resp := makeErrorResponse(id, ErrInvalidParams, fmt.Sprintf("Limit must be between 1 and %d", MaxLimit))
				return &resp
			}
			limit = *args.Limit
		}
		return h.search(ctx, id, args.Query, limit)

	case ToolListSources:
		sources, err := h.catalog.List(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "list_sources failed", "error", err)
			return toolError(id, "Error: "+err.Error())
		}
		if len(sources) == 0 {
			return toolText(id, "No sources configured.")
		}
		return toolJSON(ctx, id, sources)

	case ToolListDocuments:
		var args ListDocumentsArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.Source == "" {
			resp := makeErrorResponse(id, ErrInvalidParams, "source is required")
			return &resp
		}
		docs, err := h.catalog.Documents(ctx, args.Source)
		if err != nil {
			if errors.Is(err, source.ErrNotFound) {
				return toolError(id, "Source not found: "+args.Source)
			}
			slog.ErrorContext(ctx, "list_documents failed", "source", args.Source, "error", err)
			return toolError(id, "Error: "+err.Error())
		}
		if len(docs) == 0 {
			return toolText(id, "No documents fetched for this source yet.")
		}

		type documentEntry struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Date    string `json:"date,omitempty"`
			Indexed bool   `json:"indexed"`
		}
		entries := make([]documentEntry, len(docs))
		for i, d := range docs {
			entries[i] = documentEntry{Title: d.Title, URL: d.URL, Date: d.Date, Indexed: d.Success}
		}
		return toolJSON(ctx, id, entries)

	case ToolReadDocument:
		var args ReadDocumentArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.URL == "" {
			resp := makeErrorResponse(id, ErrInvalidParams, "url is required")
			return &resp
		}
		doc, err := h.catalog.Document(ctx, args.URL)
		if err != nil {
			if errors.Is(err, source.ErrDocumentNotFound) {
				return toolError(id, "Document not found: "+args.URL)
			}
			slog.ErrorContext(ctx, "read_document failed", "url", args.URL, "error", err)
			return toolError(id, "Error: "+err.Error())
		}
		if !doc.Success {
			return toolError(id, "Document could not be extracted: "+doc.Error)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", doc.Title)
		fmt.Fprintf(&b, "Fonte: %s\nData: %s\nURL: %s\n\n", doc.Source, doc.Date, doc.URL)
		b.WriteString(doc.Text)
		return toolText(id, b.String())
	}

	resp := makeErrorResponse(id, ErrMethodNotFound, "Tool not found: "+params.Name)
	return &resp
}

func (h *Handler) search(ctx context.Context, id interface{}, query string, limit int) *JSONRPCResponse {
	results, err := h.retriever.Retrieve(ctx, query, limit)
	switch {
	case errors.Is(err, retrieval.ErrQueryTooShort):
		return toolError(id, "Per favore scrivi una domanda più specifica.")
	case errors.Is(err, retrieval.ErrIndexUnavailable):
		return toolError(id, "The knowledge base is not loaded yet.")
	case err != nil:
		slog.ErrorContext(ctx, "search failed", "error", err)
		resp := makeErrorResponse(id, ErrInternal, "Search failed: "+err.Error())
		return &resp
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", ToolSearch, "result_count", len(results))
	return toolText(id, retrieval.FormatAnswer(query, results).Markdown())
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func toolError(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}, IsError: true},
	}
}

func toolJSON(ctx context.Context, id interface{}, v interface{}) *JSONRPCResponse {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal tool result", "error", err)
		return toolError(id, "Error marshalling results")
	}
	return toolText(id, string(data))
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP answers a single JSON-RPC request inline.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(ctx, req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// HandleSSE opens a session and streams the responses to messages posted
// for it.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHttpError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", middleware.GetCorrelationID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC request for an open session. The response
// is delivered on the session's event stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	slog.Info("mcp message received",
		"method", r.Method,
		"path", r.URL.Path,
		"correlation_id", correlationID,
	)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHttpError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.Warn("session not found", "session_id", sessionID, "correlation_id", correlationID)
		h.writeHttpError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("invalid json in message request", "error", err, "correlation_id", correlationID)
		h.writeHttpError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// keeps the correlation id, drops the request cancellation
	bgCtx := context.WithoutCancel(r.Context())

	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			slog.Error("failed to marshal response", "error", err, "correlation_id", correlationID)
			return
		}
		h.deliver(sessionID, string(data))
	}()
}

// deliver queues msg for the session unless it has closed or its buffer is
// full.
func (h *Handler) deliver(sessionID, msg string) bool {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.Warn("session closed before response", "session_id", sessionID)
		return false
	}
	select {
	case msgChan <- msg:
		return true
	default:
		slog.Warn("session channel full, dropping message", "session_id", sessionID)
		return false
	}
}

// writeError reports JSON-RPC errors with HTTP 200, as clients read the body
// regardless of status.
func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(makeErrorResponse(id, code, message)); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func (h *Handler) writeHttpError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
