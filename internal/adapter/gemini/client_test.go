package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"scuolakb/internal/adapter/gemini"
)

type fakeGemini struct {
	mu         sync.Mutex
	batchSizes []int
	dropOne    bool
	*httptest.Server
}

func newFakeGemini(t *testing.T) *fakeGemini {
	t.Helper()
	f := &fakeGemini{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, ":batchEmbedContents"):
			var req struct {
				Requests []json.RawMessage `json:"requests"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)

			f.mu.Lock()
			f.batchSizes = append(f.batchSizes, len(req.Requests))
			drop := f.dropOne
			f.mu.Unlock()

			n := len(req.Requests)
			if drop {
				n--
			}
			embs := make([]map[string]interface{}, n)
			for i := range embs {
				embs[i] = map[string]interface{}{"values": []float32{float32(i), 1}}
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": embs})
		case strings.HasSuffix(r.URL.Path, ":embedContent"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"embedding": map[string]interface{}{"values": []float32{0.1, 0.2, 0.3}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func TestNewEmbedder_MissingKey(t *testing.T) {
	_, err := gemini.NewEmbedder(context.Background(), "", "")
	assert.ErrorIs(t, err, gemini.ErrMissingAPIKey)
}

func TestEmbedder_Embed(t *testing.T) {
	srv := newFakeGemini(t)
	ctx := context.Background()

	embedder, err := gemini.NewEmbedder(ctx, "test-key", "", option.WithEndpoint(srv.URL))
	require.NoError(t, err)
	defer embedder.Close()

	vec, err := embedder.Embed(ctx, "supplenze docenti")
	require.NoError(t, err)
	if assert.Len(t, vec, 3) {
		assert.Equal(t, float32(0.1), vec[0])
	}
}

func TestEmbedder_EmbedBatchSplits(t *testing.T) {
	srv := newFakeGemini(t)
	ctx := context.Background()

	embedder, err := gemini.NewEmbedder(ctx, "test-key", gemini.DefaultModel, option.WithEndpoint(srv.URL))
	require.NoError(t, err)
	defer embedder.Close()

	texts := make([]string, 2*gemini.MaxBatch+5)
	for i := range texts {
		texts[i] = "chunk"
	}

	vecs, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, []int{gemini.MaxBatch, gemini.MaxBatch, 5}, srv.batchSizes)

	// order within each request is preserved
	assert.Equal(t, float32(0), vecs[0][0])
	assert.Equal(t, float32(99), vecs[99][0])
	assert.Equal(t, float32(0), vecs[100][0])
	assert.Equal(t, float32(4), vecs[204][0])
}

func TestEmbedder_EmbedBatchCountMismatch(t *testing.T) {
	srv := newFakeGemini(t)
	srv.dropOne = true
	ctx := context.Background()

	embedder, err := gemini.NewEmbedder(ctx, "test-key", "", option.WithEndpoint(srv.URL))
	require.NoError(t, err)
	defer embedder.Close()

	_, err = embedder.EmbedBatch(ctx, []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestEmbedder_EmbedBatchEmpty(t *testing.T) {
	srv := newFakeGemini(t)
	ctx := context.Background()

	embedder, err := gemini.NewEmbedder(ctx, "test-key", "", option.WithEndpoint(srv.URL))
	require.NoError(t, err)
	defer embedder.Close()

	vecs, err := embedder.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Empty(t, srv.batchSizes)
}
