package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mmcdole/gofeed"

	"scuolakb/internal/document"
)

type Kind string

const (
	KindRSS   Kind = "rss"
	KindHTML  Kind = "html"
	KindPDF   Kind = "pdf"
	KindEmail Kind = "email"
)

// Source is a closed set: RSS, HTML, PDF and Email are the only variants.
type Source interface {
	SourceName() string
	Kind() Kind
	sealed()
}

// RSS is an RSS or Atom feed. Only the MaxEntries most recent entries are
// listed; zero means the adapter default.
type RSS struct {
	Name       string
	URL        string
	MaxEntries int
}

// HTML is a single page, or with Follow set, a listing page whose relevant
// links are the documents.
type HTML struct {
	Name         string
	URL          string
	Follow       bool
	LinkKeywords []string
	TextKeywords []string
	Exclusions   []string
}

type PDF struct {
	Name  string
	URL   string
	Title string
	Date  string
}

// Email is an IMAP mailbox. Empty credentials are looked up in
// IMAP_USERNAME and IMAP_PASSWORD when the mailbox is read.
type Email struct {
	Name        string
	Server      string
	Mailbox     string
	Username    string
	Password    string
	Window      time.Duration
	LinkDomains []string
	MaxMessages int
}

func (s RSS) SourceName() string   { return s.Name }
func (s HTML) SourceName() string  { return s.Name }
func (s PDF) SourceName() string   { return s.Name }
func (s Email) SourceName() string { return s.Name }

func (RSS) Kind() Kind   { return KindRSS }
func (HTML) Kind() Kind  { return KindHTML }
func (PDF) Kind() Kind   { return KindPDF }
func (Email) Kind() Kind { return KindEmail }

func (RSS) sealed()   {}
func (HTML) sealed()  {}
func (PDF) sealed()   {}
func (Email) sealed() {}

const (
	DefaultMaxEntries   = 50
	DefaultMailWindow   = 30 * 24 * time.Hour
	DefaultMaxMessages  = 50
	defaultMaxBytes     = 25 << 20
	descriptionMaxChars = 300
)

type Options struct {
	Timeout        time.Duration
	PDFTimeout     time.Duration
	PoliteDelay    time.Duration
	MaxBytes       int64
	UserAgent      string
	PDFDir         string
	MaxFeedEntries int

	// Dial opens IMAP sessions; nil uses TLS.
	Dial MailDialer
	// LookupEnv resolves mailbox credentials; nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Client overrides the HTTP client.
	Client *http.Client
}

// Adapter lists and fetches documents for every source variant. It keeps no
// state between calls apart from the per-host throttle.
type Adapter struct {
	client    *http.Client
	feeds     *gofeed.Parser
	throttle  *Throttle
	dial      MailDialer
	lookupEnv func(string) (string, bool)
	opts      Options
	now       func() time.Time
}

func NewAdapter(opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PDFTimeout <= 0 {
		opts.PDFTimeout = 60 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.MaxFeedEntries <= 0 {
		opts.MaxFeedEntries = DefaultMaxEntries
	}
	if opts.PDFDir == "" {
		opts.PDFDir = os.TempDir()
	}

	a := &Adapter{
		client:    opts.Client,
		feeds:     gofeed.NewParser(),
		throttle:  NewThrottle(opts.PoliteDelay),
		dial:      opts.Dial,
		lookupEnv: opts.LookupEnv,
		opts:      opts,
		now:       time.Now,
	}
	if a.client == nil {
		// deadlines come from the per-request context
		a.client = &http.Client{}
	}
	if a.dial == nil {
		a.dial = dialTLS
	}
	if a.lookupEnv == nil {
		a.lookupEnv = os.LookupEnv
	}
	return a
}

// Discover lists the items of a source as discovery records.
func (a *Adapter) Discover(ctx context.Context, src Source) ([]document.Record, error) {
	slog.InfoContext(ctx, "discovering source", "source", src.SourceName(), "kind", src.Kind())

	switch s := src.(type) {
	case RSS:
		return a.discoverRSS(ctx, s)
	case HTML:
		return a.discoverHTML(ctx, s)
	case PDF:
		return a.discoverPDF(s), nil
	case Email:
		return a.discoverEmail(ctx, s)
	default:
		return nil, fmt.Errorf("unsupported source %T", src)
	}
}

// Fetch downloads and extracts one discovered item.
func (a *Adapter) Fetch(ctx context.Context, rec document.Record) Result {
	switch rec.Type {
	case document.TypeFeedArticle, document.TypeHTMLPage:
		return a.fetchPage(ctx, rec)
	case document.TypePDF:
		return a.fetchPDF(ctx, rec)
	case document.TypeEmail:
		return a.fetchEmail(rec)
	default:
		return Fail(&ExtractionError{URL: rec.URL, Err: fmt.Errorf("unsupported document type %q", rec.Type)})
	}
}

func (a *Adapter) discoverPDF(s PDF) []document.Record {
	title := s.Title
	if title == "" {
		title = s.Name
	}
	return []document.Record{{
		ID:     document.DocumentID(s.URL),
		URL:    s.URL,
		Title:  title,
		Source: s.Name,
		Date:   s.Date,
		Type:   document.TypePDF,
	}}
}

func (a *Adapter) fetchEmail(rec document.Record) Result {
	doc := document.FromRecord(rec)
	doc.FetchedAt = a.now().UTC()
	if rec.Text == "" {
		return FailWith(doc, &ExtractionError{URL: rec.URL, Err: fmt.Errorf("message has no text body")})
	}
	doc.Text = rec.Text
	doc.Success = true
	return Ok(doc)
}
