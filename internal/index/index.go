// Package index defines the vector index contract shared by the ingestion
// and retrieval paths, with an in-memory implementation.
package index

import (
	"context"
	"fmt"

	"scuolakb/internal/document"
)

// MaxBatchSize bounds a single upsert call.
const MaxBatchSize = 5000

// Item is one chunk ready to be stored.
type Item struct {
	ID       string
	Text     string
	Metadata document.ChunkMetadata
	Vector   []float32
}

// Hit is one query result. Distance is the cosine distance, lower is closer.
type Hit struct {
	ID       string
	Text     string
	Metadata document.ChunkMetadata
	Distance float64
}

type Index interface {
	Upsert(ctx context.Context, items []Item) error
	DeleteDocument(ctx context.Context, documentID string) error
	// DeleteChunksFrom removes the chunks of documentID whose chunk index is
	// from or higher.
	DeleteChunksFrom(ctx context.Context, documentID string, from int) error
	// Query returns at most k hits by ascending distance.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
}

// Replacer is implemented by indexes that can swap a document's chunks in
// one step.
type Replacer interface {
	ReplaceDocument(ctx context.Context, documentID string, items []Item) error
}

// UpsertBatched splits items into calls of at most MaxBatchSize.
func UpsertBatched(ctx context.Context, idx Index, items []Item) error {
	for start := 0; start < len(items); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(items) {
			end = len(items)
		}
		if err := idx.Upsert(ctx, items[start:end]); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Replace stores items as the chunks of documentID and drops chunks left over
// from a longer previous version. Chunk ids are positional, so the upsert
// overwrites in place; when it fails the previous version stays queryable.
func Replace(ctx context.Context, idx Index, documentID string, items []Item) error {
	if r, ok := idx.(Replacer); ok && len(items) <= MaxBatchSize {
		return r.ReplaceDocument(ctx, documentID, items)
	}
	if err := UpsertBatched(ctx, idx, items); err != nil {
		return err
	}
	if err := idx.DeleteChunksFrom(ctx, documentID, len(items)); err != nil {
		return fmt.Errorf("trim document %s: %w", documentID, err)
	}
	return nil
}
