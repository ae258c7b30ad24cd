package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"scuolakb/internal/catalog"
	"scuolakb/internal/document"
	src "scuolakb/internal/source"
)

var (
	ErrNotFound         = errors.New("source not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// Source is the public view of a configured source. Credentials are never
// exposed.
type Source struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	URL       string `json:"url,omitempty"`
	Follow    bool   `json:"follow,omitempty"`
	Mailbox   string `json:"mailbox,omitempty"`
	Documents int    `json:"documents"`
	Failed    int    `json:"failed"`
}

type Service struct {
	sources     []src.Source
	fetchedPath string
}

func NewService(sources []src.Source, fetchedPath string) *Service {
	return &Service{sources: sources, fetchedPath: fetchedPath}
}

// List returns the configured sources with their fetched document counts.
func (s *Service) List(_ context.Context) ([]Source, error) {
	fetched, err := catalog.LoadFetched(s.fetchedPath)
	if err != nil {
		return nil, err
	}

	out := make([]Source, 0, len(s.sources))
	for _, cfg := range s.sources {
		v := describe(cfg)
		for _, f := range catalog.BySource(fetched, v.Name) {
			if f.Success {
				v.Documents++
			} else {
				v.Failed++
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// Documents returns the fetched records of one source, newest first.
func (s *Service) Documents(_ context.Context, name string) ([]document.Fetched, error) {
	if !s.known(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	fetched, err := catalog.LoadFetched(s.fetchedPath)
	if err != nil {
		return nil, err
	}
	docs := catalog.BySource(fetched, name)
	sort.SliceStable(docs, func(i, j int) bool {
		ti, okI := catalog.ParseDate(docs[i].Date)
		tj, okJ := catalog.ParseDate(docs[j].Date)
		if !okI || !okJ {
			return okI && !okJ
		}
		return ti.After(tj)
	})
	return docs, nil
}

// Document returns the fetched record whose URL is url.
func (s *Service) Document(_ context.Context, url string) (document.Fetched, error) {
	fetched, err := catalog.LoadFetched(s.fetchedPath)
	if err != nil {
		return document.Fetched{}, err
	}
	for _, f := range fetched {
		if f.URL == url {
			return f, nil
		}
	}
	return document.Fetched{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, url)
}

func (s *Service) known(name string) bool {
	for _, cfg := range s.sources {
		if cfg.SourceName() == name {
			return true
		}
	}
	return false
}

func describe(s src.Source) Source {
	v := Source{Name: s.SourceName(), Kind: string(s.Kind())}
	switch c := s.(type) {
	case src.RSS:
		v.URL = c.URL
	case src.HTML:
		v.URL = c.URL
		v.Follow = c.Follow
	case src.PDF:
		v.URL = c.URL
	case src.Email:
		v.URL = c.Server
		v.Mailbox = c.Mailbox
	}
	return v
}
