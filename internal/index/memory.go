package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

type memoryEntry struct {
	item Item
	unit []float32
}

// Memory is a brute-force cosine index. It is what the snapshot file is
// loaded into when no external vector database is configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	byDoc   map[string]map[string]struct{}
	dim     int
	ready   bool
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		byDoc:   make(map[string]map[string]struct{}),
	}
}

// Ready reports whether the index has been loaded or written to.
func (m *Memory) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// MarkReady flags an intentionally empty index as usable.
func (m *Memory) MarkReady() {
	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
}

func (m *Memory) Upsert(_ context.Context, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDims(items); err != nil {
		return err
	}
	for _, it := range items {
		m.put(it)
	}
	m.ready = true
	return nil
}

func (m *Memory) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteDoc(documentID)
	return nil
}

func (m *Memory) DeleteChunksFrom(_ context.Context, documentID string, from int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.byDoc[documentID] {
		if m.entries[id].item.Metadata.ChunkIndex >= from {
			delete(m.entries, id)
			m.unlink(documentID, id)
		}
	}
	return nil
}

func (m *Memory) ReplaceDocument(_ context.Context, documentID string, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDims(items); err != nil {
		return err
	}
	m.deleteDoc(documentID)
	for _, it := range items {
		m.put(it)
	}
	m.ready = true
	return nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Query ranks every entry by cosine distance. Equal distances are ordered by
// id so results are deterministic.
func (m *Memory) Query(_ context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	q := normalize(vector)
	if q == nil {
		return nil, fmt.Errorf("query vector is empty or zero")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dim != 0 && len(q) != m.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(q), m.dim)
	}

	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		hits = append(hits, Hit{
			ID:       e.item.ID,
			Text:     e.item.Text,
			Metadata: e.item.Metadata,
			Distance: 1 - dot(q, e.unit),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *Memory) Get(id string) (Item, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e.item, ok
}

// Items returns every stored item ordered by id.
func (m *Memory) Items() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) checkDims(items []Item) error {
	dim := m.dim
	for _, it := range items {
		if len(it.Vector) == 0 {
			return fmt.Errorf("item %s has no vector", it.ID)
		}
		if dim == 0 {
			dim = len(it.Vector)
		}
		if len(it.Vector) != dim {
			return fmt.Errorf("item %s has dimension %d, index has %d", it.ID, len(it.Vector), dim)
		}
	}
	return nil
}

func (m *Memory) put(it Item) {
	if m.dim == 0 {
		m.dim = len(it.Vector)
	}
	if old, ok := m.entries[it.ID]; ok {
		m.unlink(old.item.Metadata.DocumentID, it.ID)
	}
	m.entries[it.ID] = memoryEntry{item: it, unit: normalize(it.Vector)}
	doc := it.Metadata.DocumentID
	if m.byDoc[doc] == nil {
		m.byDoc[doc] = make(map[string]struct{})
	}
	m.byDoc[doc][it.ID] = struct{}{}
}

func (m *Memory) deleteDoc(documentID string) {
	for id := range m.byDoc[documentID] {
		delete(m.entries, id)
	}
	delete(m.byDoc, documentID)
}

func (m *Memory) unlink(documentID, id string) {
	if ids, ok := m.byDoc[documentID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byDoc, documentID)
		}
	}
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
