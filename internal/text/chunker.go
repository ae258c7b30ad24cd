package text

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MinTextChars is the shortest input that can produce a chunk.
	MinTextChars = 50

	DefaultChunkSize = 500
	DefaultOverlap   = 100
	DefaultMinWords  = 20
)

var ErrInvalidParams = errors.New("invalid chunk parameters")

// ValidateParams rejects parameter sets that would produce a non-positive
// stride or windows that can never be kept.
func ValidateParams(size, overlap, minWords int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidParams, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidParams, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidParams, overlap, size)
	}
	if minWords < 0 || minWords > size {
		return fmt.Errorf("%w: minimum words %d must be within [0, %d]", ErrInvalidParams, minWords, size)
	}
	return nil
}

// ChunkWords splits text into windows of size words that advance by
// size-overlap words. Windows shorter than minWords are dropped. The result
// depends only on the arguments.
func ChunkWords(text string, size, overlap, minWords int) ([]string, error) {
	if err := ValidateParams(size, overlap, minWords); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) < MinTextChars {
		return nil, nil
	}

	words := strings.Fields(trimmed)
	stride := size - overlap

	var chunks []string
	for start := 0; start < len(words); start += stride {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		if end-start >= minWords {
			chunks = append(chunks, strings.Join(words[start:end], " "))
		}
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// Chunker binds a validated parameter set.
type Chunker struct {
	size     int
	overlap  int
	minWords int
}

func NewChunker(size, overlap, minWords int) (*Chunker, error) {
	if err := ValidateParams(size, overlap, minWords); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap, minWords: minWords}, nil
}

func (c *Chunker) Chunk(text string) []string {
	// parameters were validated in NewChunker
	chunks, _ := ChunkWords(text, c.size, c.overlap, c.minWords)
	return chunks
}

// NormalizeLines trims every line and drops the empty ones.
func NormalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) (string, bool) {
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}
