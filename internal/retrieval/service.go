package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"scuolakb/internal/document"
	"scuolakb/internal/index"
	"scuolakb/internal/middleware"
)

const (
	DefaultTopK    = 5
	MinQueryLength = 3
)

var (
	ErrQueryTooShort    = errors.New("query too short")
	ErrIndexUnavailable = errors.New("index unavailable")
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// readiness is implemented by indexes that must be loaded before use.
type readiness interface {
	Ready() bool
}

type Result struct {
	ChunkID  string                 `json:"chunk_id"`
	Text     string                 `json:"text"`
	Metadata document.ChunkMetadata `json:"metadata"`
	Distance float64                `json:"distance"`
}

type Service struct {
	embedder Embedder
	index    index.Index
	topK     int
	logger   *QueryLogger
}

func NewService(e Embedder, idx index.Index, topK int, l *QueryLogger) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{embedder: e, index: idx, topK: topK, logger: l}
}

// Retrieve returns the nearest chunks to query in index order.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return nil, ErrQueryTooShort
	}
	if topK <= 0 {
		topK = s.topK
	}
	if s.index == nil {
		return nil, ErrIndexUnavailable
	}
	if r, ok := s.index.(readiness); ok && !r.Ready() {
		return nil, ErrIndexUnavailable
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Query(ctx, vec, topK)
	if err != nil {
		slog.ErrorContext(ctx, "index query failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{ChunkID: h.ID, Text: h.Text, Metadata: h.Metadata, Distance: h.Distance}
	}

	if s.logger != nil {
		entry := QueryLogEntry{
			Query:         query,
			TopK:          topK,
			NumResults:    len(results),
			Sources:       citedSources(results),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		}
		if len(results) > 0 {
			best := results[0].Distance
			entry.BestDistance = &best
		}
		s.logger.Log(entry)
	}
	return results, nil
}

// citedSources lists the distinct sources of the results that would be cited.
func citedSources(results []Result) []string {
	if len(results) > MaxCitations {
		results = results[:MaxCitations]
	}
	var out []string
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Metadata.Source == "" || seen[r.Metadata.Source] {
			continue
		}
		seen[r.Metadata.Source] = true
		out = append(out, r.Metadata.Source)
	}
	return out
}
