package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "gemini-embedding-001"
	// MaxBatch is the largest request batchEmbedContents accepts.
	MaxBatch = 100
)

var ErrMissingAPIKey = errors.New("gemini api key not configured")

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: model}, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

// Embed embeds a search query.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding query", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalQuery

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds document chunks, MaxBatch texts per request. Output order
// matches input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatch {
		end := start + MaxBatch
		if end > len(texts) {
			end = len(texts)
		}

		b := em.NewBatch()
		for _, t := range texts[start:end] {
			b.AddContent(genai.Text(t))
		}

		slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", end-start)
		res, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			slog.ErrorContext(ctx, "batch embedding failed", "error", err, "offset", start)
			return nil, err
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", end-start, len(res.Embeddings))
		}
		for i, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding at position %d", start+i)
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}
