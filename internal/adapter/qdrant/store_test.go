package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuolakb/internal/document"
	"scuolakb/internal/index"
)

type fakeClient struct {
	exists    bool
	created   *qdrant.CreateCollection
	upserts   []*qdrant.UpsertPoints
	deletes   []*qdrant.DeletePoints
	queries   []*qdrant.QueryPoints
	results   []*qdrant.ScoredPoint
	count     uint64
	upsertErr error
}

func (f *fakeClient) CollectionExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeClient) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	f.exists = true
	return nil
}

func (f *fakeClient) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, req)
	return f.results, nil
}

func (f *fakeClient) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Count(context.Context, *qdrant.CountPoints) (uint64, error) { return f.count, nil }

func TestStore_UpsertCreatesCollection(t *testing.T) {
	fc := &fakeClient{}
	s := NewStore(fc, "normativa")
	ctx := context.Background()

	items := []index.Item{{
		ID:       "doc_chunk_0",
		Text:     "testo",
		Metadata: document.ChunkMetadata{DocumentID: "doc", ChunkIndex: 0, TotalChunks: 1},
		Vector:   []float32{0.1, 0.2, 0.3},
	}}
	require.NoError(t, s.Upsert(ctx, items))
	require.NoError(t, s.Upsert(ctx, items))

	require.NotNil(t, fc.created)
	params := fc.created.VectorsConfig.GetParams()
	assert.Equal(t, uint64(3), params.Size)
	assert.Equal(t, qdrant.Distance_Cosine, params.Distance)

	require.Len(t, fc.upserts, 2)
	pt := fc.upserts[0].Points[0]
	assert.Equal(t, PointID("doc_chunk_0"), pt.Id.GetUuid())
	assert.Equal(t, "doc", pt.Payload["document_id"].GetStringValue())
	assert.Equal(t, "doc_chunk_0", pt.Payload["chunk_id"].GetStringValue())
	assert.Equal(t, "testo", pt.Payload["text"].GetStringValue())
}

func TestStore_UpsertError(t *testing.T) {
	fc := &fakeClient{exists: true, upsertErr: errors.New("unavailable")}
	err := NewStore(fc, "c").Upsert(context.Background(), []index.Item{{ID: "x", Vector: []float32{1}}})
	assert.Error(t, err)
}

func TestStore_ReadsOnMissingCollection(t *testing.T) {
	fc := &fakeClient{}
	s := NewStore(fc, "c")
	ctx := context.Background()

	hits, err := s.Query(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.DeleteDocument(ctx, "doc"))
	assert.Empty(t, fc.queries)
	assert.Empty(t, fc.deletes)
}

func TestStore_QueryConvertsScores(t *testing.T) {
	fc := &fakeClient{
		exists: true,
		results: []*qdrant.ScoredPoint{
			{
				Id:    qdrant.NewIDUUID(PointID("doc_chunk_2")),
				Score: 0.9,
				Payload: qdrant.NewValueMap(map[string]any{
					"text":          "Graduatorie provinciali",
					"chunk_id":      "doc_chunk_2",
					"document_id":   "doc",
					"title":         "GPS 2024",
					"source":        "USR",
					"document_type": "pdf",
					"chunk_index":   2,
					"total_chunks":  4,
				}),
			},
		},
	}
	hits, err := NewStore(fc, "c").Query(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	h := hits[0]
	assert.Equal(t, "doc_chunk_2", h.ID)
	assert.Equal(t, "Graduatorie provinciali", h.Text)
	assert.InDelta(t, 0.1, h.Distance, 1e-6)
	assert.Equal(t, "GPS 2024", h.Metadata.Title)
	assert.Equal(t, 2, h.Metadata.ChunkIndex)
	assert.Equal(t, 4, h.Metadata.TotalChunks)
	assert.Equal(t, document.TypePDF, h.Metadata.DocumentType)

	require.Len(t, fc.queries, 1)
	assert.Equal(t, uint64(3), *fc.queries[0].Limit)
}

func TestStore_DeleteAndCount(t *testing.T) {
	fc := &fakeClient{exists: true, count: 7}
	s := NewStore(fc, "c")
	ctx := context.Background()

	require.NoError(t, s.DeleteDocument(ctx, "doc-9"))
	require.Len(t, fc.deletes, 1)
	filter := fc.deletes[0].Points.GetFilter()
	require.NotNil(t, filter)
	require.Len(t, filter.Must, 1)
	assert.Equal(t, "document_id", filter.Must[0].GetField().Key)
	assert.Equal(t, "doc-9", filter.Must[0].GetField().Match.GetKeyword())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestStore_DeleteChunksFrom(t *testing.T) {
	fc := &fakeClient{exists: true}
	s := NewStore(fc, "c")

	require.NoError(t, s.DeleteChunksFrom(context.Background(), "doc-9", 3))
	require.Len(t, fc.deletes, 1)
	filter := fc.deletes[0].Points.GetFilter()
	require.NotNil(t, filter)
	require.Len(t, filter.Must, 2)
	assert.Equal(t, "doc-9", filter.Must[0].GetField().Match.GetKeyword())
	rng := filter.Must[1].GetField()
	assert.Equal(t, "chunk_index", rng.Key)
	require.NotNil(t, rng.Range.Gte)
	assert.Equal(t, 3.0, *rng.Range.Gte)
	assert.Nil(t, rng.Range.Lt)
}

func TestPointID_Deterministic(t *testing.T) {
	assert.Equal(t, PointID("a_chunk_0"), PointID("a_chunk_0"))
	assert.NotEqual(t, PointID("a_chunk_0"), PointID("a_chunk_1"))
}
