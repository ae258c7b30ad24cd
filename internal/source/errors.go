package source

import (
	"errors"
	"fmt"

	"scuolakb/internal/document"
)

// ErrSkipped marks a source that was deliberately not read, e.g. a mailbox
// without credentials.
var ErrSkipped = errors.New("source skipped")

// FetchError covers network, timeout and HTTP status failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError means the content arrived but could not be turned into text.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Result is either a Document or the error that prevented it. On extraction
// failures Document still carries the identity fields and Success=false.
type Result struct {
	Document document.Document
	Err      error
}

func Ok(doc document.Document) Result { return Result{Document: doc} }

func Fail(err error) Result { return Result{Err: err} }

func FailWith(doc document.Document, err error) Result {
	doc.Success = false
	doc.Text = ""
	return Result{Document: doc, Err: err}
}

func (r Result) OK() bool { return r.Err == nil }

func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}
