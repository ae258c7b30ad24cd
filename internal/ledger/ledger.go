package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Store persists the set of ingested document ids.
type Store interface {
	LoadIDs(ctx context.Context) ([]string, error)
	AddIDs(ctx context.Context, ids []string) error
	RemoveIDs(ctx context.Context, ids []string) error
}

// Ledger is the set of document ids already processed. Changes stay in memory
// until Save writes the difference to the Store.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	ids     map[string]struct{}
	added   map[string]struct{}
	removed map[string]struct{}
}

// New returns an empty ledger. A nil store keeps the ledger in memory only.
func New(store Store) *Ledger {
	return &Ledger{
		store:   store,
		ids:     make(map[string]struct{}),
		added:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
}

// Load replaces the in-memory set with the stored one. An empty store is a
// first run, not an error.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	ids, err := l.store.LoadIDs(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		l.ids[id] = struct{}{}
	}
	l.added = make(map[string]struct{})
	l.removed = make(map[string]struct{})

	if len(ids) == 0 {
		slog.InfoContext(ctx, "ledger empty, treating as first run")
	} else {
		slog.InfoContext(ctx, "ledger loaded", "count", len(ids))
	}
	return nil
}

func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

func (l *Ledger) Mark(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[id] = struct{}{}
	l.added[id] = struct{}{}
	delete(l.removed, id)
}

// Forget removes id so the next run treats the document as new.
func (l *Ledger) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ids, id)
	delete(l.added, id)
	l.removed[id] = struct{}{}
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// Save writes ids marked or forgotten since the last Load or Save. On error
// the pending changes are kept for the next attempt.
func (l *Ledger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		l.added = make(map[string]struct{})
		l.removed = make(map[string]struct{})
		return nil
	}

	if len(l.removed) > 0 {
		if err := l.store.RemoveIDs(ctx, sortedKeys(l.removed)); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
		l.removed = make(map[string]struct{})
	}
	if len(l.added) > 0 {
		if err := l.store.AddIDs(ctx, sortedKeys(l.added)); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
		l.added = make(map[string]struct{})
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
