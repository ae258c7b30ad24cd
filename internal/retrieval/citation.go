package retrieval

import (
	"fmt"
	"strings"

	"scuolakb/internal/text"
)

const (
	MaxCitations  = 3
	PreviewLength = 400
	Placeholder   = "N/A"
)

// NoResultsMessage is returned instead of an empty citation list.
const NoResultsMessage = "Non ho trovato informazioni rilevanti nella knowledge base. " +
	"Prova a riformulare la domanda o chiedi su un argomento diverso."

type Citation struct {
	Rank     int     `json:"rank"`
	Title    string  `json:"title"`
	Source   string  `json:"source"`
	Date     string  `json:"date"`
	URL      string  `json:"url"`
	Preview  string  `json:"preview"`
	Distance float64 `json:"distance"`
}

type Answer struct {
	Query     string     `json:"query"`
	Found     bool       `json:"found"`
	Message   string     `json:"message,omitempty"`
	Citations []Citation `json:"citations"`
}

// FormatAnswer presents the first results as citations. Previews are cut
// from the chunk text and never rewritten.
func FormatAnswer(query string, results []Result) Answer {
	if len(results) == 0 {
		return Answer{Query: query, Message: NoResultsMessage, Citations: []Citation{}}
	}
	if len(results) > MaxCitations {
		results = results[:MaxCitations]
	}
	a := Answer{Query: query, Found: true, Citations: make([]Citation, len(results))}
	for i, r := range results {
		a.Citations[i] = Citation{
			Rank:     i + 1,
			Title:    orPlaceholder(r.Metadata.Title),
			Source:   orPlaceholder(r.Metadata.Source),
			Date:     orPlaceholder(r.Metadata.Date),
			URL:      orPlaceholder(r.Metadata.URL),
			Preview:  preview(r.Text),
			Distance: r.Distance,
		}
	}
	return a
}

func preview(s string) string {
	cut, truncated := text.Truncate(s, PreviewLength)
	cut = strings.TrimSpace(cut)
	if truncated {
		return cut + "..."
	}
	return cut
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

func (a Answer) Markdown() string {
	if !a.Found {
		return a.Message
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Informazioni trovate sulla tua domanda:** %q\n\n---\n", a.Query)
	for _, c := range a.Citations {
		fmt.Fprintf(&b, "\n**%d. %s**\n", c.Rank, c.Title)
		fmt.Fprintf(&b, "   *Fonte: %s*\n", c.Source)
		fmt.Fprintf(&b, "   *Data: %s*\n\n", c.Date)
		fmt.Fprintf(&b, "   %s\n\n", c.Preview)
		if c.URL != Placeholder {
			fmt.Fprintf(&b, "   [Leggi tutto](%s)\n", c.URL)
		}
	}
	b.WriteString("\n---\n*Clicca sui link per leggere i documenti completi.*\n")
	return b.String()
}
