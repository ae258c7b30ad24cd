package source

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"scuolakb/internal/document"
)

const minAnchorText = 10

var (
	DefaultLinkKeywords = []string{".pdf", "normativa", "circolare", "decreto", "ordinanza"}
	DefaultTextKeywords = []string{"comunicazione", "circolare", "avviso", "decreto", "ordinanza", "nota", "bando", "concorso"}

	datePattern = regexp.MustCompile(`\d{2}[/-]\d{2}[/-]\d{4}|\d{4}[/-]\d{2}[/-]\d{2}`)
)

// HarvestLinks lists the relevant links of a listing page. A link is relevant
// when its href contains a link keyword or its anchor text contains a text
// keyword. Results are absolute, fragment-free and unique.
func HarvestLinks(doc *goquery.Document, base *url.URL, s HTML) []document.Record {
	linkKW := s.LinkKeywords
	if len(linkKW) == 0 {
		linkKW = DefaultLinkKeywords
	}
	textKW := s.TextKeywords
	if len(textKW) == 0 {
		textKW = DefaultTextKeywords
	}

	var exclusions []*regexp.Regexp
	for _, ex := range s.Exclusions {
		if re, err := regexp.Compile(ex); err == nil {
			exclusions = append(exclusions, re)
		}
	}

	var records []document.Record
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		anchor := strings.Join(strings.Fields(a.Text()), " ")

		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		if len([]rune(anchor)) < minAnchorText {
			return
		}
		if !containsAny(strings.ToLower(href), linkKW) && !containsAny(strings.ToLower(anchor), textKW) {
			return
		}

		link, ok := resolve(base, href)
		if !ok {
			return
		}
		for _, re := range exclusions {
			if re.MatchString(link) {
				return
			}
		}
		if seen[link] {
			return
		}
		seen[link] = true

		typ := document.TypeHTMLPage
		if strings.HasSuffix(strings.ToLower(strings.SplitN(link, "?", 2)[0]), ".pdf") {
			typ = document.TypePDF
		}

		records = append(records, document.Record{
			ID:     document.DocumentID(link),
			URL:    link,
			Title:  anchor,
			Source: s.Name,
			Date:   nearbyDate(a),
			Type:   typ,
		})
	})

	return records
}

func resolve(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}

// nearbyDate looks for a date in the closest list item, table row or div.
func nearbyDate(a *goquery.Selection) string {
	parent := a.Closest("li, tr, div")
	if parent.Length() == 0 {
		return ""
	}
	return datePattern.FindString(parent.Text())
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
