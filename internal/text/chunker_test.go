package text

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name              string
		size, overlap, mw int
		wantErr           bool
	}{
		{"Defaults", 500, 100, 20, false},
		{"Zero overlap", 10, 0, 1, false},
		{"Overlap equals size", 100, 100, 20, true},
		{"Overlap above size", 50, 80, 20, true},
		{"Zero size", 0, 0, 0, true},
		{"Negative overlap", 100, -1, 20, true},
		{"Min words above size", 10, 2, 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams(tt.size, tt.overlap, tt.mw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParams)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunkWords(t *testing.T) {
	t.Run("Thousand words with 500/100", func(t *testing.T) {
		chunks, err := ChunkWords(numberedWords(1000), 500, 100, 20)
		require.NoError(t, err)
		require.Len(t, chunks, 3)

		lens := []int{}
		for _, c := range chunks {
			lens = append(lens, len(strings.Fields(c)))
		}
		assert.Equal(t, []int{500, 500, 200}, lens)

		// neighbours share the 100 boundary words
		for i := 1; i < len(chunks); i++ {
			prev := strings.Fields(chunks[i-1])
			cur := strings.Fields(chunks[i])
			assert.Equal(t, prev[len(prev)-100:], cur[:100])
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		in := numberedWords(777)
		a, err := ChunkWords(in, 120, 30, 10)
		require.NoError(t, err)
		b, err := ChunkWords(in, 120, 30, 10)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Short input yields nothing", func(t *testing.T) {
		chunks, err := ChunkWords("troppo breve", 500, 100, 1)
		assert.NoError(t, err)
		assert.Empty(t, chunks)

		chunks, err = ChunkWords("   ", 500, 100, 1)
		assert.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Trailing fragment discarded", func(t *testing.T) {
		// windows: 0-49, 40-89, 80-94 (15 words < 20)
		chunks, err := ChunkWords(numberedWords(95), 50, 10, 20)
		require.NoError(t, err)
		assert.Len(t, chunks, 2)
	})

	t.Run("Single short window below minimum", func(t *testing.T) {
		chunks, err := ChunkWords(numberedWords(15)+" padding padding padding", 500, 100, 20)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Invalid params rejected", func(t *testing.T) {
		_, err := ChunkWords(numberedWords(100), 100, 100, 20)
		assert.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("Whitespace collapsed", func(t *testing.T) {
		in := strings.Repeat("circolare\n\n  supplenze\t", 20)
		chunks, err := ChunkWords(in, 10, 0, 1)
		require.NoError(t, err)
		for _, c := range chunks {
			assert.NotContains(t, c, "\n")
			assert.NotContains(t, c, "  ")
		}
	})
}

func TestChunker(t *testing.T) {
	_, err := NewChunker(10, 10, 1)
	assert.ErrorIs(t, err, ErrInvalidParams)

	c, err := NewChunker(10, 2, 1)
	require.NoError(t, err)
	assert.Len(t, c.Chunk(numberedWords(18)), 2)
}

func TestNormalizeLines(t *testing.T) {
	in := "  Titolo  \n\n\n  corpo   del   testo \n \t\nfine"
	assert.Equal(t, "Titolo\ncorpo del testo\nfine", NormalizeLines(in))
}

func TestTruncate(t *testing.T) {
	s, cut := Truncate("àèìòù", 3)
	assert.Equal(t, "àèì", s)
	assert.True(t, cut)

	s, cut = Truncate("abc", 3)
	assert.Equal(t, "abc", s)
	assert.False(t, cut)
}
