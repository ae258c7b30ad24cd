package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	ExistsErr       error
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	require.NoError(t, EnsureSchema(context.Background(), client))
	require.NotNil(t, client.CreatedClass)

	class := client.CreatedClass
	assert.Equal(t, ChunkClass, class.Class)
	assert.Equal(t, "none", class.Vectorizer)
	assert.Equal(t, map[string]interface{}{"distance": "cosine"}, class.VectorIndexConfig)

	byName := make(map[string]*models.Property)
	for _, p := range class.Properties {
		byName[p.Name] = p
	}
	for _, name := range []string{"documentId", "chunkId", "url", "source"} {
		p, ok := byName[name]
		require.True(t, ok, name)
		assert.Equal(t, models.PropertyTokenizationField, p.Tokenization, name)
	}
	assert.Equal(t, []string{"int"}, byName["chunkIndex"].DataType)
	assert.Equal(t, []string{"text"}, byName["text"].DataType)
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class: ChunkClass,
			Properties: []*models.Property{
				{Name: "text", DataType: []string{"text"}},
				{Name: "documentId", DataType: []string{"text"}},
			},
		},
	}

	require.NoError(t, EnsureSchema(context.Background(), client))
	assert.Nil(t, client.CreatedClass)
	assert.Len(t, client.AddedProperties, len(ChunkProperties())-2)
	for _, p := range client.AddedProperties {
		assert.NotEqual(t, "text", p.Name)
		assert.NotEqual(t, "documentId", p.Name)
	}
}

func TestEnsureSchema_ExistsError(t *testing.T) {
	client := &MockSchemaClient{ExistsErr: errors.New("connection refused")}
	err := EnsureSchema(context.Background(), client)
	assert.Error(t, err)
	assert.Nil(t, client.CreatedClass)
}
