package catalog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuolakb/internal/catalog"
	"scuolakb/internal/document"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), true},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"12/02/2024", time.Date(2024, 2, 12, 0, 0, 0, 0, time.UTC), true},
		{"12-02-2024", time.Date(2024, 2, 12, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"ieri", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := catalog.ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
			}
		})
	}
}

func TestDedupAndSort(t *testing.T) {
	recs := []document.Record{
		{ID: "1", URL: "https://a.org/x", Date: "2024-01-01"},
		{ID: "2", URL: "https://a.org/nodate"},
		{ID: "3", URL: "HTTPS://A.org/x/#frag", Date: "2024-05-01"},
		{ID: "4", URL: "https://a.org/y", Date: "2024-03-01T00:00:00Z"},
		{ID: "5", URL: "https://a.org/z", Date: "boh"},
	}

	deduped := catalog.DedupByURL(recs)
	require.Len(t, deduped, 4)
	assert.Equal(t, "1", deduped[0].ID, "first occurrence wins")

	catalog.SortNewestFirst(deduped)
	ids := make([]string, len(deduped))
	for i, r := range deduped {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"4", "1", "2", "5"}, ids)
}

func TestDiscovery_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "discovery.json")

	recs, err := catalog.LoadDiscovery(path)
	require.NoError(t, err)
	assert.Empty(t, recs)

	in := []document.Record{{ID: "1", URL: "https://a.org", Title: "Circolare", Type: document.TypePDF, Text: "not persisted"}}
	require.NoError(t, catalog.SaveDiscovery(path, in))

	out, err := catalog.LoadDiscovery(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Circolare", out[0].Title)
	assert.Empty(t, out[0].Text)
}

func TestSaveDiscovery_EmptyIsArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovery.json")
	require.NoError(t, catalog.SaveDiscovery(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestMergeFetched(t *testing.T) {
	prev := []document.Fetched{
		{Record: document.Record{ID: "a"}, Success: false, Error: "timeout"},
		{Record: document.Record{ID: "b"}, Success: true},
	}
	next := []document.Fetched{
		{Record: document.Record{ID: "c"}, Success: true},
		{Record: document.Record{ID: "a"}, Success: true},
	}

	merged := catalog.MergeFetched(prev, next)
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].ID)
	assert.True(t, merged[0].Success, "new attempt wins")
	assert.Empty(t, merged[0].Error)
	assert.Equal(t, "b", merged[1].ID)
	assert.Equal(t, "c", merged[2].ID)
}

func TestFetched_SaveLoadAndFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetched.json")
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := []document.Fetched{
		{Record: document.Record{ID: "a", Source: "MIM"}, Text: "testo", FetchedAt: now, DocumentType: document.TypePDF, Success: true},
		{Record: document.Record{ID: "b", Source: "USR"}, FetchedAt: now, Error: "status 404"},
	}
	require.NoError(t, catalog.SaveFetched(path, recs))

	loaded, err := catalog.LoadFetched(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "testo", loaded[0].Text)
	assert.True(t, now.Equal(loaded[0].FetchedAt))

	mim := catalog.BySource(loaded, "MIM")
	require.Len(t, mim, 1)
	assert.Equal(t, "a", mim[0].ID)

	rest, found := catalog.RemoveFetched(loaded, "b")
	assert.True(t, found)
	assert.Len(t, rest, 1)
	assert.Len(t, loaded, 2, "input slice is not modified")

	_, found = catalog.RemoveFetched(loaded, "zzz")
	assert.False(t, found)
}

func TestLoadFetched_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetched.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := catalog.LoadFetched(path)
	assert.Error(t, err)
}
