package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scuolakb/internal/document"
	"scuolakb/internal/index"
	"scuolakb/internal/middleware"
	"scuolakb/internal/retrieval"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockIndex struct{ mock.Mock }

func (m *MockIndex) Upsert(ctx context.Context, items []index.Item) error {
	return m.Called(ctx, items).Error(0)
}

func (m *MockIndex) DeleteDocument(ctx context.Context, documentID string) error {
	return m.Called(ctx, documentID).Error(0)
}

func (m *MockIndex) DeleteChunksFrom(ctx context.Context, documentID string, from int) error {
	return m.Called(ctx, documentID, from).Error(0)
}

func (m *MockIndex) Query(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	args := m.Called(ctx, vector, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]index.Hit), args.Error(1)
}

func (m *MockIndex) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestService_Retrieve(t *testing.T) {
	ctx := middleware.WithCorrelationID(context.Background(), "req-1")
	vec := []float32{0.1, 0.2}
	hits := []index.Hit{
		{ID: "a_chunk_0", Text: "supplenze brevi", Metadata: document.ChunkMetadata{DocumentID: "a", Title: "Supplenze"}, Distance: 0.1},
		{ID: "b_chunk_2", Text: "graduatorie", Metadata: document.ChunkMetadata{DocumentID: "b"}, Distance: 0.3},
	}

	tests := []struct {
		name     string
		query    string
		topK     int
		setup    func(e *MockEmbedder, i *MockIndex)
		wantErr  error
		wantIDs  []string
		wantLogs int
	}{
		{
			name:  "Default TopK",
			query: "  supplenze docenti  ",
			topK:  0,
			setup: func(e *MockEmbedder, i *MockIndex) {
				e.On("Embed", ctx, "supplenze docenti").Return(vec, nil)
				i.On("Query", ctx, vec, 5).Return(hits, nil)
			},
			wantIDs:  []string{"a_chunk_0", "b_chunk_2"},
			wantLogs: 1,
		},
		{
			name:  "Explicit TopK",
			query: "mobilità",
			topK:  2,
			setup: func(e *MockEmbedder, i *MockIndex) {
				e.On("Embed", ctx, "mobilità").Return(vec, nil)
				i.On("Query", ctx, vec, 2).Return(hits, nil)
			},
			wantIDs:  []string{"a_chunk_0", "b_chunk_2"},
			wantLogs: 1,
		},
		{
			name:    "Query Too Short",
			query:   " ab ",
			setup:   func(e *MockEmbedder, i *MockIndex) {},
			wantErr: retrieval.ErrQueryTooShort,
		},
		{
			name:  "Index Error",
			query: "concorso",
			setup: func(e *MockEmbedder, i *MockIndex) {
				e.On("Embed", ctx, "concorso").Return(vec, nil)
				i.On("Query", ctx, vec, 5).Return(nil, errors.New("connection refused"))
			},
			wantErr: retrieval.ErrIndexUnavailable,
		},
		{
			name:  "No Results",
			query: "argomento sconosciuto",
			setup: func(e *MockEmbedder, i *MockIndex) {
				e.On("Embed", ctx, "argomento sconosciuto").Return(vec, nil)
				i.On("Query", ctx, vec, 5).Return([]index.Hit{}, nil)
			},
			wantIDs:  []string{},
			wantLogs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := new(MockEmbedder)
			idx := new(MockIndex)
			tt.setup(e, idx)

			var logBuf bytes.Buffer
			svc := retrieval.NewService(e, idx, 5, retrieval.NewQueryLogger(&logBuf))

			got, err := svc.Retrieve(ctx, tt.query, tt.topK)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
				ids := make([]string, len(got))
				for i, r := range got {
					ids[i] = r.ChunkID
				}
				assert.Equal(t, tt.wantIDs, ids)
			}

			lines := strings.Count(logBuf.String(), "\n")
			assert.Equal(t, tt.wantLogs, lines)
			if tt.wantLogs > 0 {
				var entry retrieval.QueryLogEntry
				require.NoError(t, json.Unmarshal(logBuf.Bytes(), &entry))
				assert.Equal(t, "req-1", entry.CorrelationID)
			}
			e.AssertExpectations(t)
			idx.AssertExpectations(t)
		})
	}
}

func TestService_QueryTooShortSkipsEmbedder(t *testing.T) {
	e := new(MockEmbedder)
	svc := retrieval.NewService(e, index.NewMemory(), 5, nil)

	_, err := svc.Retrieve(context.Background(), "è", 5)

	assert.ErrorIs(t, err, retrieval.ErrQueryTooShort)
	e.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestService_IndexNotReady(t *testing.T) {
	e := new(MockEmbedder)
	mem := index.NewMemory()

	_, err := retrieval.NewService(e, mem, 5, nil).Retrieve(context.Background(), "supplenze", 5)
	assert.ErrorIs(t, err, retrieval.ErrIndexUnavailable)

	_, err = retrieval.NewService(e, nil, 5, nil).Retrieve(context.Background(), "supplenze", 5)
	assert.ErrorIs(t, err, retrieval.ErrIndexUnavailable)

	e.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestService_MemoryIndexOrder(t *testing.T) {
	ctx := context.Background()
	mem := index.NewMemory()
	require.NoError(t, mem.Upsert(ctx, []index.Item{
		{ID: "far", Text: "lontano", Vector: []float32{0, 1}},
		{ID: "near", Text: "vicino", Vector: []float32{1, 0.1}},
	}))
	mem.MarkReady()

	e := new(MockEmbedder)
	e.On("Embed", ctx, "vicino a te").Return([]float32{1, 0}, nil)

	got, err := retrieval.NewService(e, mem, 5, nil).Retrieve(ctx, "vicino a te", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ChunkID)
	assert.Equal(t, "far", got[1].ChunkID)
	assert.Less(t, got[0].Distance, got[1].Distance)
}

var topicWords = []string{"supplenze", "graduatorie", "ferie", "mobilità", "esami", "sciopero", "bilancio", "mensa", "orario", "sicurezza", "formazione"}

// topicVector counts topic words, a stand-in for a semantic embedding.
func topicVector(text string) []float32 {
	v := make([]float32, len(topicWords))
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:?")
		for i, t := range topicWords {
			if w == t {
				v[i]++
			}
		}
	}
	return v
}

func TestService_RelevantChunkRanksFirstAmongUnrelated(t *testing.T) {
	ctx := context.Background()
	texts := map[string]string{
		"ferie":      "Le ferie del personale docente si fruiscono durante la sospensione delle lezioni.",
		"mobilita":   "Domande di mobilità territoriale e professionale entro il mese di marzo.",
		"esami":      "Calendario degli esami di Stato e commissioni.",
		"sciopero":   "Comunicazione di sciopero del comparto istruzione.",
		"bilancio":   "Approvazione del bilancio e programma annuale.",
		"mensa":      "Servizio mensa e tariffe per le famiglie.",
		"orario":     "Orario delle lezioni e ricevimento genitori.",
		"sicurezza":  "Piano di sicurezza e prove di evacuazione.",
		"formazione": "Piano di formazione obbligatoria in servizio.",
		"circolare":  "Circolare sulle supplenze: le graduatorie provinciali per le supplenze sono pubblicate.",
	}
	var items []index.Item
	for id, text := range texts {
		items = append(items, index.Item{
			ID:       id + "_chunk_0",
			Text:     text,
			Vector:   append(topicVector(text), 0.1),
			Metadata: document.ChunkMetadata{DocumentID: id, Title: id},
		})
	}
	mem := index.NewMemory()
	require.NoError(t, mem.Upsert(ctx, items))

	question := "Quali sono le novità sulle supplenze?"
	e := new(MockEmbedder)
	e.On("Embed", ctx, question).Return(append(topicVector(question), 0.1), nil)

	got, err := retrieval.NewService(e, mem, 5, nil).Retrieve(ctx, question, 0)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, "circolare_chunk_0", got[0].ChunkID)
	assert.Contains(t, got[0].Text, "supplenze")
	for _, r := range got[1:] {
		assert.Greater(t, r.Distance, got[0].Distance)
	}
}

func TestService_LogsRetrievalSummary(t *testing.T) {
	ctx := context.Background()
	mem := index.NewMemory()
	require.NoError(t, mem.Upsert(ctx, []index.Item{
		{ID: "a#0", Text: "ferie", Vector: []float32{1, 0}, Metadata: document.ChunkMetadata{Source: "MIM"}},
		{ID: "b#0", Text: "ferie ata", Vector: []float32{1, 0.2}, Metadata: document.ChunkMetadata{Source: "FLC CGIL"}},
		{ID: "c#0", Text: "ferie docenti", Vector: []float32{1, 0.3}, Metadata: document.ChunkMetadata{Source: "MIM"}},
	}))
	mem.MarkReady()

	e := new(MockEmbedder)
	e.On("Embed", ctx, "ferie").Return([]float32{1, 0}, nil)

	var logBuf bytes.Buffer
	_, err := retrieval.NewService(e, mem, 5, retrieval.NewQueryLogger(&logBuf)).Retrieve(ctx, "ferie", 0)
	require.NoError(t, err)

	var entry retrieval.QueryLogEntry
	require.NoError(t, json.Unmarshal(logBuf.Bytes(), &entry))
	assert.Equal(t, 5, entry.TopK)
	assert.Equal(t, 3, entry.NumResults)
	require.NotNil(t, entry.BestDistance)
	assert.InDelta(t, 0, *entry.BestDistance, 1e-6)
	assert.Equal(t, []string{"MIM", "FLC CGIL"}, entry.Sources)
}
