package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"scuolakb/internal/source"
)

// SourceEntry is one item of the sources file. Kind selects which of the
// remaining fields apply.
type SourceEntry struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`

	// rss
	MaxEntries int `yaml:"max_entries"`

	// html
	Follow       bool     `yaml:"follow"`
	LinkKeywords []string `yaml:"link_keywords"`
	TextKeywords []string `yaml:"text_keywords"`
	Exclusions   []string `yaml:"exclusions"`

	// pdf
	Title string `yaml:"title"`
	Date  string `yaml:"date"`

	// email
	Server      string   `yaml:"server"`
	Mailbox     string   `yaml:"mailbox"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	WindowDays  int      `yaml:"window_days"`
	LinkDomains []string `yaml:"link_domains"`
	MaxMessages int      `yaml:"max_messages"`
}

type sourcesFile struct {
	Sources []SourceEntry `yaml:"sources"`
}

// LoadSources reads the sources file at path.
func LoadSources(path string) ([]source.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(bytes.NewReader(data))
}

// ParseSources decodes and validates a sources document. Names must be
// unique; every web source needs an absolute http(s) url.
func ParseSources(r io.Reader) ([]source.Source, error) {
	var f sourcesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: sources file is empty", ErrValidation)
		}
		return nil, fmt.Errorf("%w: decode sources: %w", ErrValidation, err)
	}

	seen := make(map[string]bool, len(f.Sources))
	out := make([]source.Source, 0, len(f.Sources))
	for i, e := range f.Sources {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: sources[%d]: name is required", ErrValidation, i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: duplicate source name %q", ErrValidation, e.Name)
		}
		seen[e.Name] = true

		src, err := e.toSource()
		if err != nil {
			return nil, fmt.Errorf("%w: source %q: %w", ErrValidation, e.Name, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func (e SourceEntry) toSource() (source.Source, error) {
	switch source.Kind(e.Kind) {
	case source.KindRSS:
		if err := checkURL(e.URL); err != nil {
			return nil, err
		}
		return source.RSS{Name: e.Name, URL: e.URL, MaxEntries: e.MaxEntries}, nil
	case source.KindHTML:
		if err := checkURL(e.URL); err != nil {
			return nil, err
		}
		return source.HTML{
			Name:         e.Name,
			URL:          e.URL,
			Follow:       e.Follow,
			LinkKeywords: e.LinkKeywords,
			TextKeywords: e.TextKeywords,
			Exclusions:   e.Exclusions,
		}, nil
	case source.KindPDF:
		if err := checkURL(e.URL); err != nil {
			return nil, err
		}
		return source.PDF{Name: e.Name, URL: e.URL, Title: e.Title, Date: e.Date}, nil
	case source.KindEmail:
		if e.Server == "" {
			return nil, fmt.Errorf("server is required")
		}
		var window time.Duration
		if e.WindowDays > 0 {
			window = time.Duration(e.WindowDays) * 24 * time.Hour
		}
		return source.Email{
			Name:        e.Name,
			Server:      e.Server,
			Mailbox:     e.Mailbox,
			Username:    e.Username,
			Password:    e.Password,
			Window:      window,
			LinkDomains: e.LinkDomains,
			MaxMessages: e.MaxMessages,
		}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", e.Kind)
	}
}

func checkURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be absolute http(s): %q", raw)
	}
	return nil
}
