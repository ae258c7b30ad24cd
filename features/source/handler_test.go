package source_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuolakb/features/source"
	"scuolakb/internal/catalog"
	"scuolakb/internal/document"
	src "scuolakb/internal/source"
)

func setup(t *testing.T) *source.Handler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetched_documents.json")

	fetched := []document.Fetched{
		{Record: document.Record{ID: "1", URL: "https://mim.gov.it/a", Source: "MIM Normativa", Date: "2024-01-10"}, Success: true, FetchedAt: time.Now()},
		{Record: document.Record{ID: "2", URL: "https://mim.gov.it/b.pdf", Source: "MIM Normativa", Date: "2024-02-01"}, Success: false, Error: "extract: bad pdf"},
		{Record: document.Record{ID: "3", URL: "https://flc.it/c", Source: "FLC CGIL"}, Success: true},
	}
	require.NoError(t, catalog.SaveFetched(path, fetched))

	sources := []src.Source{
		src.HTML{Name: "MIM Normativa", URL: "https://mim.gov.it/normativa", Follow: true},
		src.RSS{Name: "FLC CGIL", URL: "https://flc.it/feed"},
		src.Email{Name: "Newsletter", Server: "imap.example.org:993", Mailbox: "INBOX", Password: "secret"},
	}
	return source.NewHandler(source.NewService(sources, path))
}

func TestHandler_List(t *testing.T) {
	h := setup(t)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/sources", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")

	var body struct {
		Data []source.Source `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Data, 3)
	assert.Equal(t, source.Source{Name: "MIM Normativa", Kind: "html", URL: "https://mim.gov.it/normativa", Follow: true, Documents: 1, Failed: 1}, body.Data[0])
	assert.Equal(t, 1, body.Data[1].Documents)
	assert.Equal(t, "INBOX", body.Data[2].Mailbox)
	assert.Zero(t, body.Data[2].Documents)
}

func TestHandler_Documents(t *testing.T) {
	h := setup(t)

	t.Run("Newest First", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sources/MIM%20Normativa/documents", nil)
		req.SetPathValue("name", "MIM Normativa")
		w := httptest.NewRecorder()
		h.Documents(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data []document.Fetched `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		require.Len(t, body.Data, 2)
		assert.Equal(t, "2", body.Data[0].ID)
		assert.Equal(t, "1", body.Data[1].ID)
	})

	t.Run("Empty Source", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sources/Newsletter/documents", nil)
		req.SetPathValue("name", "Newsletter")
		w := httptest.NewRecorder()
		h.Documents(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"data":[]`)
	})

	t.Run("Unknown Source", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sources/nope/documents", nil)
		req.SetPathValue("name", "nope")
		w := httptest.NewRecorder()
		h.Documents(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_ListWithoutFetchedFile(t *testing.T) {
	h := source.NewHandler(source.NewService([]src.Source{src.PDF{Name: "Decreto", URL: "https://x/d.pdf"}}, filepath.Join(t.TempDir(), "missing.json")))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/sources", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"pdf"`)
}

func TestService_Document(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetched_documents.json")
	require.NoError(t, catalog.SaveFetched(path, []document.Fetched{
		{Record: document.Record{ID: "1", URL: "https://mim.gov.it/a", Title: "Ferie"}, Text: "Le ferie dei docenti", Success: true},
	}))
	svc := source.NewService(nil, path)

	doc, err := svc.Document(context.Background(), "https://mim.gov.it/a")
	require.NoError(t, err)
	assert.Equal(t, "Le ferie dei docenti", doc.Text)

	_, err = svc.Document(context.Background(), "https://mim.gov.it/missing")
	assert.ErrorIs(t, err, source.ErrDocumentNotFound)
}
