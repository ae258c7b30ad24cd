package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"scuolakb/internal/document"
	"scuolakb/internal/index"
)

var pointNamespace = uuid.MustParse("0b8f3d6a-2c41-4e7b-9a0d-5e6f1c2b3a47")

// PointID maps a chunk id to the Qdrant point UUID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Client is the part of *qdrant.Client the store uses.
type Client interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
}

// Store is the Qdrant implementation of index.Index. The collection is
// created on first write, sized from the first vector.
type Store struct {
	client     Client
	collection string

	mu      sync.Mutex
	created bool
}

// Dial connects to Qdrant over gRPC.
func Dial(host string, port int) (*qdrant.Client, error) {
	return qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
}

func NewStore(client Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

func (s *Store) ensureCollection(ctx context.Context, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return err
	}
	if !exists {
		slog.InfoContext(ctx, "creating qdrant collection", "collection", s.collection, "size", size)
		if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: &qdrant.VectorsConfig{
				Config: &qdrant.VectorsConfig_Params{
					Params: &qdrant.VectorParams{
						Size:     uint64(size),
						Distance: qdrant.Distance_Cosine,
					},
				},
			},
		}); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	s.created = true
	return nil
}

// exists reports whether the collection is there; reads on a missing
// collection return empty results.
func (s *Store) exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	created := s.created
	s.mu.Unlock()
	if created {
		return true, nil
	}
	return s.client.CollectionExists(ctx, s.collection)
}

func (s *Store) Upsert(ctx context.Context, items []index.Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(items[0].Vector)); err != nil {
		return err
	}

	pts := make([]*qdrant.PointStruct, len(items))
	for i, it := range items {
		pts[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(it.ID)),
			Vectors: qdrant.NewVectors(it.Vector...),
			Payload: qdrant.NewValueMap(payload(it)),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         pts,
	})
	return err
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	ok, err := s.exists(ctx)
	if err != nil || !ok {
		return err
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	})
	return err
}

func (s *Store) DeleteChunksFrom(ctx context.Context, documentID string, from int) error {
	ok, err := s.exists(ctx)
	if err != nil || !ok {
		return err
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
				qdrant.NewRange("chunk_index", &qdrant.Range{Gte: qdrant.PtrOf(float64(from))}),
			},
		}),
	})
	return err
}

func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	ok, err := s.exists(ctx)
	if err != nil || !ok {
		return nil, err
	}

	limit := uint64(k)
	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Limit:          &limit,
		Query:          qdrant.NewQuery(vector...),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]index.Hit, 0, len(resp))
	for _, r := range resp {
		md := make(map[string]interface{}, len(r.Payload))
		for key, v := range r.Payload {
			md[key] = convertValue(v)
		}
		text, _ := md["text"].(string)
		chunkID, _ := md["chunk_id"].(string)
		hits = append(hits, index.Hit{
			ID:       chunkID,
			Text:     text,
			Metadata: document.MetadataFromMap(md),
			// cosine score is similarity; the index contract speaks distance
			Distance: 1 - float64(r.Score),
		})
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ok, err := s.exists(ctx)
	if err != nil || !ok {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func payload(it index.Item) map[string]any {
	p := it.Metadata.Map()
	p["text"] = it.Text
	p["chunk_id"] = it.ID
	return p
}

func convertValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		out := make([]any, len(val.ListValue.Values))
		for i, lv := range val.ListValue.Values {
			out[i] = convertValue(lv)
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(val.StructValue.Fields))
		for k, nv := range val.StructValue.Fields {
			out[k] = convertValue(nv)
		}
		return out
	}
	return nil
}
