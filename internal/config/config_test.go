package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuolakb/internal/config"
	"scuolakb/internal/source"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 20, cfg.ChunkMinWords)
	assert.Equal(t, 100, cfg.MaxDocsPerRun)
	assert.Equal(t, 5, cfg.SearchTopK)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, config.IndexMemory, cfg.IndexBackend)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")
	// godotenv never overrides variables that are already set
	os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
	os.Unsetenv("DB_HOST")
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("INDEX_BACKEND", "qdrant")
	t.Setenv("CHUNK_SIZE", "800")
	t.Setenv("POLITE_DELAY", "250ms")
	t.Setenv("ENABLE_EVENTS", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.IndexQdrant, cfg.IndexBackend)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, 250*time.Millisecond, cfg.PoliteDelay)
	assert.True(t, cfg.EnableEvents)
}

func TestLoadConfig_InvalidChunking(t *testing.T) {
	t.Setenv("CHUNK_OVERLAP", "600")

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrValidation))
}

func TestTopics(t *testing.T) {
	assert.ElementsMatch(t, []string{
		config.TopicRunRequested,
		config.TopicDocumentIndexed,
		config.TopicRunCompleted,
	}, config.Topics())
}

const sourcesYAML = `
sources:
  - name: Orizzonte Scuola
    kind: rss
    url: https://www.orizzontescuola.it/feed/
    max_entries: 20
  - name: MIM
    kind: html
    url: https://www.mim.gov.it/web/guest/normativa
    follow: true
    exclusions: ["/login"]
  - name: Decreto
    kind: pdf
    url: https://example.org/decreto.pdf
    date: "2024-01-10"
  - name: Newsletter
    kind: email
    server: imap.example.org:993
    window_days: 7
    link_domains: [istruzione.it]
`

func TestParseSources(t *testing.T) {
	srcs, err := config.ParseSources(strings.NewReader(sourcesYAML))
	require.NoError(t, err)
	require.Len(t, srcs, 4)

	assert.Equal(t, source.RSS{Name: "Orizzonte Scuola", URL: "https://www.orizzontescuola.it/feed/", MaxEntries: 20}, srcs[0])

	html, ok := srcs[1].(source.HTML)
	require.True(t, ok)
	assert.True(t, html.Follow)
	assert.Equal(t, []string{"/login"}, html.Exclusions)

	assert.Equal(t, source.KindPDF, srcs[2].Kind())

	mail, ok := srcs[3].(source.Email)
	require.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, mail.Window)
	assert.Empty(t, mail.Password)
}

func TestParseSources_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"Empty", ""},
		{"Unknown Kind", "sources:\n  - {name: a, kind: ftp, url: https://x.org}\n"},
		{"Missing Name", "sources:\n  - {kind: rss, url: https://x.org}\n"},
		{"Duplicate Name", "sources:\n  - {name: a, kind: rss, url: https://x.org}\n  - {name: a, kind: pdf, url: https://y.org/a.pdf}\n"},
		{"Relative URL", "sources:\n  - {name: a, kind: rss, url: /feed}\n"},
		{"Missing Server", "sources:\n  - {name: a, kind: email}\n"},
		{"Unknown Field", "sources:\n  - {name: a, kind: rss, url: https://x.org, depth: 3}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParseSources(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrValidation), "got %v", err)
		})
	}
}

func TestLoadSources_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sourcesYAML), 0o600))

	srcs, err := config.LoadSources(path)
	require.NoError(t, err)
	assert.Len(t, srcs, 4)

	_, err = config.LoadSources(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadSources_Bundled(t *testing.T) {
	srcs, err := config.LoadSources(filepath.Join("..", "..", "sources.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, srcs)
}
