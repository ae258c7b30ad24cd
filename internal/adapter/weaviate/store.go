package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"scuolakb/internal/document"
	"scuolakb/internal/index"
	"scuolakb/internal/vector"
)

// chunkNamespace seeds the deterministic object ids.
var chunkNamespace = uuid.MustParse("6f1c2a4e-9b7d-4c3e-8a51-2d0f7e3b9c64")

// ObjectID maps a chunk id to the Weaviate object UUID, so re-ingesting a
// chunk overwrites it.
func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

// Store is the Weaviate implementation of index.Index. It also satisfies
// vector.SchemaClient.
type Store struct {
	client *weaviate.Client
	class  string
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client, class: vector.ChunkClass}
}

func (s *Store) Upsert(ctx context.Context, items []index.Item) error {
	if len(items) == 0 {
		return nil
	}
	objects := make([]*models.Object, 0, len(items))
	for _, it := range items {
		objects = append(objects, &models.Object{
			Class:      s.class,
			ID:         ObjectID(it.ID),
			Properties: properties(it),
			Vector:     models.C11yVector(it.Vector),
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueText(documentID)).
		Do(ctx)
	return err
}

func (s *Store) DeleteChunksFrom(ctx context.Context, documentID string, from int) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"documentId"}).
					WithOperator(filters.Equal).
					WithValueText(documentID),
				filters.Where().
					WithPath([]string{"chunkIndex"}).
					WithOperator(filters.GreaterThanEqual).
					WithValueInt(int64(from)),
			})).
		Do(ctx)
	return err
}

func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "chunkId"},
		{Name: "documentId"},
		{Name: "url"},
		{Name: "title"},
		{Name: "source"},
		{Name: "date"},
		{Name: "documentType"},
		{Name: "chunkIndex"},
		{Name: "totalChunks"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var hits []index.Hit
	get, _ := res.Data["Get"].(map[string]interface{})
	rows, _ := get[s.class].([]interface{})
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		hit := index.Hit{
			ID:       str(props, "chunkId"),
			Text:     str(props, "text"),
			Metadata: metadata(props),
		}
		if add, ok := props["_additional"].(map[string]interface{}); ok {
			hit.Distance = number(add["distance"])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	groups, _ := agg[s.class].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	return int(number(meta["count"])), nil
}

func (s *Store) ClassExists(ctx context.Context, className string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (s *Store) CreateClass(ctx context.Context, class *models.Class) error {
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *Store) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (s *Store) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return s.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

func properties(it index.Item) map[string]interface{} {
	m := it.Metadata
	return map[string]interface{}{
		"text":         it.Text,
		"chunkId":      it.ID,
		"documentId":   m.DocumentID,
		"url":          m.URL,
		"title":        m.Title,
		"source":       m.Source,
		"date":         m.Date,
		"documentType": string(m.DocumentType),
		"chunkIndex":   m.ChunkIndex,
		"totalChunks":  m.TotalChunks,
	}
}

func metadata(props map[string]interface{}) document.ChunkMetadata {
	return document.ChunkMetadata{
		DocumentID:   str(props, "documentId"),
		URL:          str(props, "url"),
		Title:        str(props, "title"),
		Source:       str(props, "source"),
		Date:         str(props, "date"),
		DocumentType: document.Type(str(props, "documentType")),
		ChunkIndex:   int(number(props["chunkIndex"])),
		TotalChunks:  int(number(props["totalChunks"])),
	}
}

func str(props map[string]interface{}, key string) string {
	v, _ := props[key].(string)
	return v
}

// number accepts the float64 JSON decoding gives and the string form some
// _additional fields use.
func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
