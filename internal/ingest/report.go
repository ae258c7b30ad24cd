package ingest

import (
	"fmt"
	"time"
)

// Failure stages.
const (
	StageDiscover = "discover"
	StageFetch    = "fetch"
	StageExtract  = "extract"
	StageEmbed    = "embed"
	StageIndex    = "index"
)

// Failure kinds.
const (
	KindFetchError      = "fetch_error"
	KindExtractionError = "extraction_error"
	KindEmbedError      = "embed_error"
	KindIndexError      = "index_error"
	KindSourceError     = "source_error"
)

type Failure struct {
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
	Source     string `json:"source"`
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	Error      string `json:"error"`
}

// Report summarizes one run. Failed counts documents only; source-level
// discovery errors appear in Failures without a document id.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Discovered int       `json:"discovered"`
	New        int       `json:"new"`
	Deferred   int       `json:"deferred"`
	Fetched    int       `json:"fetched"`
	Indexed    int       `json:"indexed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Chunks     int       `json:"chunks"`
	Cancelled  bool      `json:"cancelled"`
	Failures   []Failure `json:"failures"`
}

func (r *Report) fail(f Failure) {
	if f.DocumentID != "" {
		r.Failed++
	}
	r.Failures = append(r.Failures, f)
}

// Err reports whether any document failed.
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return &PartialBatchFailure{RunID: r.RunID, Failed: r.Failed, Attempted: r.New - r.Deferred, Failures: r.Failures}
}

// PartialBatchFailure is returned when some documents of a run failed while
// the others were indexed.
type PartialBatchFailure struct {
	RunID     string
	Failed    int
	Attempted int
	Failures  []Failure
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("run %s: %d of %d documents failed", e.RunID, e.Failed, e.Attempted)
}
