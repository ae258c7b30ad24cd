package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"scuolakb/internal/document"
	"scuolakb/internal/text"
)

func (a *Adapter) discoverRSS(ctx context.Context, s RSS) ([]document.Record, error) {
	resp, err := a.get(ctx, s.URL, a.opts.Timeout)
	if err != nil {
		return nil, err
	}

	feed, err := a.feeds.Parse(bytes.NewReader(resp.body))
	if err != nil {
		return nil, &ExtractionError{URL: s.URL, Err: fmt.Errorf("parse feed: %w", err)}
	}

	limit := s.MaxEntries
	if limit <= 0 {
		limit = a.opts.MaxFeedEntries
	}

	items := recentItems(feed.Items, limit)
	records := make([]document.Record, 0, len(items))
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		desc, _ := text.Truncate(StripHTML(item.Description), descriptionMaxChars)
		records = append(records, document.Record{
			ID:          document.DocumentID(link),
			URL:         link,
			Title:       strings.TrimSpace(item.Title),
			Source:      s.Name,
			Date:        itemDate(item),
			Type:        document.TypeFeedArticle,
			Description: desc,
		})
	}

	slog.InfoContext(ctx, "feed parsed", "source", s.Name, "entries", len(feed.Items), "kept", len(records))
	return records, nil
}

// recentItems orders entries newest first and keeps at most limit of them.
// Entries without a parseable date keep their feed order after dated ones.
func recentItems(items []*gofeed.Item, limit int) []*gofeed.Item {
	sorted := make([]*gofeed.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := itemTime(sorted[i]), itemTime(sorted[j])
		if ti.IsZero() || tj.IsZero() {
			return !ti.IsZero() && tj.IsZero()
		}
		return ti.After(tj)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemDate(item *gofeed.Item) string {
	if t := itemTime(item); !t.IsZero() {
		return t.UTC().Format(time.RFC3339)
	}
	return item.Published
}
