package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ledongthuc/pdf"

	"scuolakb/internal/document"
	"scuolakb/internal/text"
)

// PDFPath is the content-addressed download location of a PDF url.
func (a *Adapter) PDFPath(rawURL string) string {
	return filepath.Join(a.opts.PDFDir, document.ContentName(rawURL, ".pdf"))
}

func (a *Adapter) fetchPDF(ctx context.Context, rec document.Record) Result {
	doc := document.FromRecord(rec)
	path := a.PDFPath(rec.URL)

	if info, err := os.Stat(path); err == nil && info.Size() > 0 && !rec.Refresh {
		slog.DebugContext(ctx, "reusing downloaded pdf", "url", rec.URL, "path", path)
	} else {
		resp, err := a.get(ctx, rec.URL, a.opts.PDFTimeout)
		if err != nil {
			return Fail(err)
		}
		if err := writeFileAtomic(path, resp.body); err != nil {
			return Fail(&FetchError{URL: rec.URL, Err: fmt.Errorf("save pdf: %w", err)})
		}
	}
	doc.FetchedAt = a.now().UTC()

	body, err := extractPDFFile(path)
	if err != nil {
		return FailWith(doc, &ExtractionError{URL: rec.URL, Err: err})
	}
	doc.Text = body
	doc.Success = true
	return Ok(doc)
}

// extractPDFBytes handles PDFs served from URLs not typed as pdf.
func (a *Adapter) extractPDFBytes(doc document.Document, body []byte) Result {
	path := a.PDFPath(doc.URL)
	if err := writeFileAtomic(path, body); err != nil {
		return Fail(&FetchError{URL: doc.URL, Err: fmt.Errorf("save pdf: %w", err)})
	}
	extracted, err := extractPDFFile(path)
	if err != nil {
		return FailWith(doc, &ExtractionError{URL: doc.URL, Err: err})
	}
	doc.Text = extracted
	doc.Success = true
	return Ok(doc)
}

// extractPDFFile returns the plain text of a PDF. The parser panics on some
// malformed files; that is reported as an error.
func extractPDFFile(path string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return text.NormalizeLines(buf.String()), nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
