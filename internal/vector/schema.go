package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClass is the Weaviate class holding document chunks.
const ChunkClass = "RegulatoryChunk"

// SchemaClient defines the Weaviate schema operations EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// ChunkProperties lists the chunk text and its denormalized document
// metadata. Identifier-like fields use field tokenization for exact filters.
func ChunkProperties() []*models.Property {
	exact := func(name string) *models.Property {
		return &models.Property{Name: name, DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField}
	}
	return []*models.Property{
		{Name: "text", DataType: []string{"text"}},
		exact("chunkId"),
		exact("documentId"),
		exact("url"),
		{Name: "title", DataType: []string{"text"}},
		exact("source"),
		exact("date"),
		exact("documentType"),
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "totalChunks", DataType: []string{"int"}},
	}
}

// EnsureSchema creates the chunk class with cosine distance, or adds any
// property missing from an existing class.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ChunkClass)
	if err != nil {
		return err
	}

	properties := ChunkProperties()

	if !exists {
		class := &models.Class{
			Class:       ChunkClass,
			Description: "A chunk of an Italian school regulatory or news document",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
			Properties: properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, ChunkClass)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ChunkClass, p); err != nil {
			return err
		}
	}
	return nil
}
