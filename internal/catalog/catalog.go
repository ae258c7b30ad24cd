// Package catalog keeps the two human-readable run outputs: the discovery
// list and the merged record of every fetch attempt.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"scuolakb/internal/document"
	"scuolakb/internal/jsonfile"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

// ParseDate accepts the date shapes sources produce. The second result is
// false for empty or unrecognized input.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DedupByURL keeps the first record seen for each normalized url.
func DedupByURL(recs []document.Record) []document.Record {
	seen := make(map[string]bool, len(recs))
	out := make([]document.Record, 0, len(recs))
	for _, r := range recs {
		key := document.NormalizeURL(r.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// SortNewestFirst orders records by date descending. Undated records keep
// their relative order after the dated ones.
func SortNewestFirst(recs []document.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		ti, okI := ParseDate(recs[i].Date)
		tj, okJ := ParseDate(recs[j].Date)
		if !okI || !okJ {
			return okI && !okJ
		}
		return ti.After(tj)
	})
}

func SaveDiscovery(path string, recs []document.Record) error {
	if recs == nil {
		recs = []document.Record{}
	}
	if err := jsonfile.Write(path, recs); err != nil {
		return fmt.Errorf("save discovery: %w", err)
	}
	return nil
}

func LoadDiscovery(path string) ([]document.Record, error) {
	var recs []document.Record
	if err := jsonfile.Read(path, &recs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load discovery: %w", err)
	}
	return recs, nil
}

// LoadFetched returns the previously saved fetch records; a missing file is
// an empty history.
func LoadFetched(path string) ([]document.Fetched, error) {
	var recs []document.Fetched
	if err := jsonfile.Read(path, &recs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load fetched documents: %w", err)
	}
	return recs, nil
}

// MergeFetched overlays next onto prev by id. A newer attempt replaces the
// older one in place; unseen ids are appended in the order given.
func MergeFetched(prev, next []document.Fetched) []document.Fetched {
	out := make([]document.Fetched, 0, len(prev)+len(next))
	pos := make(map[string]int, len(prev)+len(next))
	for _, f := range prev {
		if i, ok := pos[f.ID]; ok {
			out[i] = f
			continue
		}
		pos[f.ID] = len(out)
		out = append(out, f)
	}
	for _, f := range next {
		if i, ok := pos[f.ID]; ok {
			out[i] = f
			continue
		}
		pos[f.ID] = len(out)
		out = append(out, f)
	}
	return out
}

func SaveFetched(path string, recs []document.Fetched) error {
	if recs == nil {
		recs = []document.Fetched{}
	}
	if err := jsonfile.Write(path, recs); err != nil {
		return fmt.Errorf("save fetched documents: %w", err)
	}
	return nil
}

// RemoveFetched drops the record with the given id. It reports whether one
// was found.
func RemoveFetched(recs []document.Fetched, id string) ([]document.Fetched, bool) {
	for i, f := range recs {
		if f.ID == id {
			return append(recs[:i:i], recs[i+1:]...), true
		}
	}
	return recs, false
}

func BySource(recs []document.Fetched, source string) []document.Fetched {
	var out []document.Fetched
	for _, f := range recs {
		if f.Source == source {
			out = append(out, f)
		}
	}
	return out
}
