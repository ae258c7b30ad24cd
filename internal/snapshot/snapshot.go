// Package snapshot persists the indexed corpus as one self-describing JSON
// file that can rebuild an index without re-embedding anything.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"time"

	"scuolakb/internal/document"
	"scuolakb/internal/index"
	"scuolakb/internal/jsonfile"
)

// SchemaVersion is bumped on any incompatible change to the file layout.
const SchemaVersion = 1

var (
	ErrSchemaVersion = errors.New("unsupported snapshot schema version")
	ErrCorrupt       = errors.New("corrupt snapshot")
	ErrNotFound      = errors.New("snapshot not found")
)

type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Dimension int `json:"dimension"`
}

// File is the on-disk layout: four parallel arrays indexed by chunk.
type File struct {
	SchemaVersion int                      `json:"schema_version"`
	CreatedAt     time.Time                `json:"created_at"`
	Stats         Stats                    `json:"stats"`
	IDs           []string                 `json:"ids"`
	Documents     []string                 `json:"documents"`
	Metadatas     []document.ChunkMetadata `json:"metadatas"`
	Embeddings    [][]float32              `json:"embeddings"`
}

// Build lays items out in the given order.
func Build(items []index.Item, now time.Time) *File {
	f := &File{
		SchemaVersion: SchemaVersion,
		CreatedAt:     now.UTC(),
		IDs:           make([]string, len(items)),
		Documents:     make([]string, len(items)),
		Metadatas:     make([]document.ChunkMetadata, len(items)),
		Embeddings:    make([][]float32, len(items)),
	}
	docs := make(map[string]struct{})
	for i, it := range items {
		f.IDs[i] = it.ID
		f.Documents[i] = it.Text
		f.Metadatas[i] = it.Metadata
		f.Embeddings[i] = it.Vector
		docs[it.Metadata.DocumentID] = struct{}{}
		if f.Stats.Dimension == 0 {
			f.Stats.Dimension = len(it.Vector)
		}
	}
	f.Stats.Documents = len(docs)
	f.Stats.Chunks = len(items)
	return f
}

// Items converts the file back into index items.
func (f *File) Items() []index.Item {
	items := make([]index.Item, len(f.IDs))
	for i := range f.IDs {
		items[i] = index.Item{
			ID:       f.IDs[i],
			Text:     f.Documents[i],
			Metadata: f.Metadatas[i],
			Vector:   f.Embeddings[i],
		}
	}
	return items
}

func (f *File) validate() error {
	if f.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, f.SchemaVersion, SchemaVersion)
	}
	n := len(f.IDs)
	if len(f.Documents) != n || len(f.Metadatas) != n || len(f.Embeddings) != n {
		return fmt.Errorf("%w: array lengths differ (ids=%d documents=%d metadatas=%d embeddings=%d)",
			ErrCorrupt, n, len(f.Documents), len(f.Metadatas), len(f.Embeddings))
	}
	seen := make(map[string]struct{}, n)
	for i, id := range f.IDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrCorrupt, id)
		}
		seen[id] = struct{}{}
		if len(f.Embeddings[i]) == 0 {
			return fmt.Errorf("%w: chunk %q has no embedding", ErrCorrupt, id)
		}
	}
	return nil
}

// Save writes the snapshot atomically.
func Save(path string, f *File) error {
	if err := jsonfile.Write(path, f); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads and validates the snapshot at path.
func Load(path string) (*File, error) {
	var f File
	if err := jsonfile.Read(path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
