package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"scuolakb/internal/document"
)

// MailClient is the subset of an IMAP session the email source uses.
// *client.Client satisfies it.
type MailClient interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

type MailDialer func(ctx context.Context, addr string, timeout time.Duration) (MailClient, error)

func dialTLS(_ context.Context, addr string, timeout time.Duration) (MailClient, error) {
	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: timeout}, addr, nil)
	if err != nil {
		return nil, err
	}
	c.Timeout = timeout
	return c, nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

type mailMessage struct {
	uid       uint32
	messageID string
	subject   string
	date      time.Time
	text      string
}

// discoverEmail reads unseen messages inside the window. Each message is
// marked seen as soon as its text is extracted, so it is consumed at most
// once even if later stages fail.
func (a *Adapter) discoverEmail(ctx context.Context, s Email) ([]document.Record, error) {
	username, password := s.Username, s.Password
	if username == "" {
		username, _ = a.lookupEnv("IMAP_USERNAME")
	}
	if password == "" {
		password, _ = a.lookupEnv("IMAP_PASSWORD")
	}
	if username == "" || password == "" {
		slog.WarnContext(ctx, "mailbox credentials not configured, skipping source", "source", s.Name)
		return nil, fmt.Errorf("%w: %s: missing mailbox credentials", ErrSkipped, s.Name)
	}

	mailbox := s.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	window := s.Window
	if window <= 0 {
		window = DefaultMailWindow
	}
	maxMessages := s.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	addr := "imap://" + s.Server

	c, err := a.dial(ctx, s.Server, a.opts.Timeout)
	if err != nil {
		return nil, &FetchError{URL: addr, Err: err}
	}
	defer func() {
		if err := c.Logout(); err != nil {
			slog.DebugContext(ctx, "imap logout failed", "error", err)
		}
	}()

	if err := c.Login(username, password); err != nil {
		return nil, &FetchError{URL: addr, Err: fmt.Errorf("login: %w", err)}
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return nil, &FetchError{URL: addr, Err: fmt.Errorf("select %s: %w", mailbox, err)}
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = a.now().Add(-window)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, &FetchError{URL: addr, Err: fmt.Errorf("search: %w", err)}
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > maxMessages {
		// uids grow with arrival; keep the newest
		uids = uids[len(uids)-maxMessages:]
	}

	messages, err := fetchMessages(c, uids)
	if err != nil {
		return nil, &FetchError{URL: addr, Err: err}
	}

	var records []document.Record
	for _, m := range messages {
		if strings.TrimSpace(m.text) == "" {
			slog.WarnContext(ctx, "message has no text body", "source", s.Name, "uid", m.uid)
			continue
		}

		seen := new(imap.SeqSet)
		seen.AddNum(m.uid)
		if err := c.UidStore(seen, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil); err != nil {
			// not marked means it would be read again next run; skip it now
			slog.ErrorContext(ctx, "failed to mark message seen", "source", s.Name, "uid", m.uid, "error", err)
			continue
		}

		records = append(records, messageRecords(s, mailbox, m)...)
	}

	slog.InfoContext(ctx, "mailbox read", "source", s.Name, "unseen", len(uids), "records", len(records))
	return records, nil
}

func fetchMessages(c MailClient, uids []uint32) ([]mailMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	var out []mailMessage
	for msg := range ch {
		m := mailMessage{uid: msg.Uid}
		if msg.Envelope != nil {
			m.subject = msg.Envelope.Subject
			m.messageID = msg.Envelope.MessageId
			m.date = msg.Envelope.Date
		}
		if body := msg.GetBody(section); body != nil {
			text, err := extractMailText(body)
			if err != nil {
				slog.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			}
			m.text = text
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return out, nil
}

// extractMailText prefers text/plain parts and falls back to stripped HTML.
func extractMailText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", err
	}
	defer mr.Close()

	var plain, htmlBody []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return joinParts(plain, htmlBody), err
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil {
			ct, _, _ = mime.ParseMediaType("text/plain")
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch ct {
		case "text/plain":
			plain = append(plain, string(b))
		case "text/html":
			htmlBody = append(htmlBody, string(b))
		}
	}
	return joinParts(plain, htmlBody), nil
}

func joinParts(plain, htmlBody []string) string {
	if len(plain) > 0 {
		return strings.TrimSpace(strings.Join(plain, "\n"))
	}
	var parts []string
	for _, h := range htmlBody {
		parts = append(parts, StripHTML(h))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// messageRecords builds the record for the message itself plus one
// html-page record per link pointing at a watched domain.
func messageRecords(s Email, mailbox string, m mailMessage) []document.Record {
	ref := fmt.Sprintf("imap://%s/%s;uid=%d", s.Server, mailbox, m.uid)
	if id := strings.Trim(m.messageID, "<> "); id != "" {
		ref = "mid:" + id
	}
	date := ""
	if !m.date.IsZero() {
		date = m.date.UTC().Format(time.RFC3339)
	}

	records := []document.Record{{
		ID:      document.DocumentIDWithTitle(ref, m.subject),
		URL:     ref,
		Title:   m.subject,
		Source:  s.Name,
		Date:    date,
		Type:    document.TypeEmail,
		Text:    m.text,
		OneShot: true,
	}}

	if len(s.LinkDomains) == 0 {
		return records
	}
	seen := make(map[string]bool)
	for _, link := range urlPattern.FindAllString(m.text, -1) {
		link = strings.TrimRight(link, ".,;:")
		if seen[link] || !containsAny(strings.ToLower(link), s.LinkDomains) {
			continue
		}
		seen[link] = true
		typ := document.TypeHTMLPage
		if strings.HasSuffix(strings.ToLower(link), ".pdf") {
			typ = document.TypePDF
		}
		records = append(records, document.Record{
			ID:      document.DocumentID(link),
			URL:     link,
			Title:   m.subject,
			Source:  s.Name,
			Date:    date,
			Type:    typ,
			OneShot: true,
		})
	}
	return records
}
