package run

import (
	"time"

	"scuolakb/internal/ingest"
)

// Run is the stored summary of one ingestion run.
type Run struct {
	ID         string    `json:"id"`
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
}

func FromReport(r *ingest.Report) Run {
	return Run{
		ID:         r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Discovered: r.Discovered,
		New:        r.New,
		Deferred:   r.Deferred,
		Fetched:    r.Fetched,
		Indexed:    r.Indexed,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Chunks:     r.Chunks,
		Cancelled:  r.Cancelled,
	}
}
