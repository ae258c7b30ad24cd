package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Type string

const (
	TypeFeedArticle Type = "feed-article"
	TypeHTMLPage    Type = "html-page"
	TypePDF         Type = "pdf"
	TypeEmail       Type = "email"
)

const maxTitleLength = 200

// Record is one discovered item, before it is fetched.
type Record struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Source      string `json:"source"`
	Date        string `json:"date"`
	Type        Type   `json:"type"`
	Description string `json:"description"`

	// Text is set by sources that extract content while listing (email).
	Text string `json:"-"`
	// OneShot marks records their source will not list again, such as a
	// mailbox message already flagged seen and the links found in it.
	OneShot bool `json:"-"`
	// Refresh asks the fetcher to bypass any local download cache.
	Refresh bool `json:"-"`
}

// Document is one fetched unit of content.
type Document struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	SourceName    string    `json:"source"`
	PublishedDate string    `json:"date"`
	Type          Type      `json:"document_type"`
	Text          string    `json:"text"`
	FetchedAt     time.Time `json:"fetched_at"`
	Success       bool      `json:"success"`
}

// Fetched is the persisted shape of a fetch attempt: the discovery record
// plus the outcome.
type Fetched struct {
	Record
	Text         string    `json:"text"`
	FetchedAt    time.Time `json:"fetched_at"`
	DocumentType Type      `json:"document_type"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// FromRecord seeds a Document with the record's identity fields.
func FromRecord(rec Record) Document {
	return Document{
		ID:            rec.ID,
		URL:           rec.URL,
		Title:         rec.Title,
		SourceName:    rec.Source,
		PublishedDate: rec.Date,
		Type:          rec.Type,
	}
}

func NewFetched(rec Record, doc Document, err error) Fetched {
	f := Fetched{
		Record:       rec,
		Text:         doc.Text,
		FetchedAt:    doc.FetchedAt,
		DocumentType: rec.Type,
		Success:      err == nil && doc.Success,
	}
	if doc.Type != "" {
		f.DocumentType = doc.Type
	}
	if f.FetchedAt.IsZero() {
		f.FetchedAt = time.Now().UTC()
	}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// ChunkMetadata is the denormalized copy of the owning document stored with
// every chunk. Retrieval reads nothing else.
type ChunkMetadata struct {
	DocumentID   string `json:"document_id"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	Source       string `json:"source"`
	Date         string `json:"date"`
	DocumentType Type   `json:"document_type"`
	ChunkIndex   int    `json:"chunk_index"`
	TotalChunks  int    `json:"total_chunks"`
}

func NewChunkMetadata(doc Document, index, total int) ChunkMetadata {
	return ChunkMetadata{
		DocumentID:   doc.ID,
		URL:          doc.URL,
		Title:        truncate(doc.Title, maxTitleLength),
		Source:       doc.SourceName,
		Date:         doc.PublishedDate,
		DocumentType: doc.Type,
		ChunkIndex:   index,
		TotalChunks:  total,
	}
}

// Map flattens the metadata for stores that keep untyped payloads.
func (m ChunkMetadata) Map() map[string]interface{} {
	return map[string]interface{}{
		"document_id":   m.DocumentID,
		"url":           m.URL,
		"title":         m.Title,
		"source":        m.Source,
		"date":          m.Date,
		"document_type": string(m.DocumentType),
		"chunk_index":   m.ChunkIndex,
		"total_chunks":  m.TotalChunks,
	}
}

// MetadataFromMap is the inverse of Map. Numbers may arrive as any numeric
// type depending on the store's decoder.
func MetadataFromMap(m map[string]interface{}) ChunkMetadata {
	str := func(k string) string {
		if v, ok := m[k].(string); ok {
			return v
		}
		return ""
	}
	num := func(k string) int {
		switch v := m[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case float32:
			return int(v)
		}
		return 0
	}
	return ChunkMetadata{
		DocumentID:   str("document_id"),
		URL:          str("url"),
		Title:        str("title"),
		Source:       str("source"),
		Date:         str("date"),
		DocumentType: Type(str("document_type")),
		ChunkIndex:   num("chunk_index"),
		TotalChunks:  num("total_chunks"),
	}
}

// NormalizeURL canonicalizes a URL for fingerprinting. Unparseable input is
// only trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// DocumentID is the canonical fingerprint: the first 16 hex characters of
// sha256 over the normalized URL.
func DocumentID(rawURL string) string {
	return shortHash(NormalizeURL(rawURL), 16)
}

// DocumentIDWithTitle fingerprints items whose URL alone is not stable.
func DocumentIDWithTitle(rawURL, title string) string {
	return shortHash(NormalizeURL(rawURL)+"|"+strings.TrimSpace(title), 16)
}

func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// ContentName is the content-addressed file name used for downloads.
func ContentName(rawURL, ext string) string {
	return shortHash(rawURL, 12) + ext
}

func shortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
