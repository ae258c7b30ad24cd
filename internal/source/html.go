package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"scuolakb/internal/document"
	"scuolakb/internal/text"
)

// noiseSelector matches elements that never carry document content.
const noiseSelector = "script, style, nav, footer, header, aside, iframe, noscript"

// ContentSelectors are tried in order; the first match wins, body otherwise.
var ContentSelectors = []string{
	"article",
	"main",
	`[role="main"]`,
	".content",
	".post-content",
	".entry-content",
	"#content",
	".main-content",
}

// ExtractHTML returns the page title and its main text.
func ExtractHTML(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noiseSelector).Remove()

	content := doc.Find("body").First()
	for _, sel := range ContentSelectors {
		if match := doc.Find(sel).First(); match.Length() > 0 {
			content = match
			break
		}
	}
	if content.Length() == 0 {
		content = doc.Selection
	}

	return title, nodeText(content), nil
}

// StripHTML turns an HTML fragment into plain text on a single line.
func StripHTML(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.Join(strings.Fields(html.UnescapeString(fragment)), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(nodeText(doc.Selection)), " ")
}

// nodeText collects text nodes one per line, trimmed, blank lines dropped.
func nodeText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return text.NormalizeLines(b.String())
}

func (a *Adapter) discoverHTML(ctx context.Context, s HTML) ([]document.Record, error) {
	if !s.Follow {
		return []document.Record{{
			ID:     document.DocumentID(s.URL),
			URL:    s.URL,
			Title:  s.Name,
			Source: s.Name,
			Type:   document.TypeHTMLPage,
		}}, nil
	}

	resp, err := a.get(ctx, s.URL, a.opts.Timeout)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(s.URL)
	if err != nil {
		return nil, &ExtractionError{URL: s.URL, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.body))
	if err != nil {
		return nil, &ExtractionError{URL: s.URL, Err: fmt.Errorf("parse html: %w", err)}
	}

	return HarvestLinks(doc, base, s), nil
}

func (a *Adapter) fetchPage(ctx context.Context, rec document.Record) Result {
	doc := document.FromRecord(rec)

	resp, err := a.get(ctx, rec.URL, a.opts.Timeout)
	if err != nil {
		return Fail(err)
	}
	doc.FetchedAt = a.now().UTC()

	// some listing links resolve to PDFs without a .pdf suffix
	if strings.HasPrefix(resp.contentType, "application/pdf") {
		doc.Type = document.TypePDF
		return a.extractPDFBytes(doc, resp.body)
	}

	title, body, err := ExtractHTML(resp.body)
	if err != nil {
		return FailWith(doc, &ExtractionError{URL: rec.URL, Err: err})
	}
	if doc.Title == "" {
		doc.Title = title
	}
	doc.Text = body
	doc.Success = true
	return Ok(doc)
}
