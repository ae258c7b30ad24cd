package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"scuolakb/internal/document"
)

func TestFormatAnswer_NoResults(t *testing.T) {
	a := FormatAnswer("supplenze", nil)

	assert.False(t, a.Found)
	assert.Equal(t, NoResultsMessage, a.Message)
	assert.Empty(t, a.Citations)
	assert.Equal(t, NoResultsMessage, a.Markdown())
}

func TestFormatAnswer_TopThreeWithPlaceholders(t *testing.T) {
	results := []Result{
		{ChunkID: "a_chunk_0", Text: "primo", Metadata: document.ChunkMetadata{Title: "Nota 1", Source: "MIM", Date: "2024-01-10", URL: "https://mim.gov.it/n1"}},
		{ChunkID: "b_chunk_0", Text: "secondo"},
		{ChunkID: "c_chunk_0", Text: "terzo"},
		{ChunkID: "d_chunk_0", Text: "quarto"},
	}

	a := FormatAnswer("nota", results)

	assert.True(t, a.Found)
	assert.Len(t, a.Citations, 3)
	assert.Equal(t, "Nota 1", a.Citations[0].Title)
	assert.Equal(t, 1, a.Citations[0].Rank)
	second := a.Citations[1]
	assert.Equal(t, Placeholder, second.Title)
	assert.Equal(t, Placeholder, second.Source)
	assert.Equal(t, Placeholder, second.Date)
	assert.Equal(t, Placeholder, second.URL)
	assert.Equal(t, "secondo", second.Preview)

	md := a.Markdown()
	assert.Contains(t, md, "[Leggi tutto](https://mim.gov.it/n1)")
	assert.NotContains(t, md, "quarto")
}

func TestFormatAnswer_Preview(t *testing.T) {
	long := strings.Repeat("parola ", 100)

	t.Run("Truncated", func(t *testing.T) {
		a := FormatAnswer("parola", []Result{{Text: long}})
		p := a.Citations[0].Preview
		assert.True(t, strings.HasSuffix(p, "..."))
		assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(p, "...")))
		assert.LessOrEqual(t, len([]rune(p)), PreviewLength+3)
	})

	t.Run("Exact Text Kept", func(t *testing.T) {
		a := FormatAnswer("parola", []Result{{Text: "  breve testo  "}})
		assert.Equal(t, "breve testo", a.Citations[0].Preview)
	})

	t.Run("Multibyte Safe", func(t *testing.T) {
		text := strings.Repeat("è", PreviewLength+10)
		a := FormatAnswer("è è è", []Result{{Text: text}})
		assert.Equal(t, strings.Repeat("è", PreviewLength)+"...", a.Citations[0].Preview)
	})
}
