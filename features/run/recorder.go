package run

import (
	"context"
	"fmt"

	"scuolakb/internal/ingest"
)

type FailureSaver interface {
	SaveAll(ctx context.Context, runID string, failures []ingest.Failure) error
}

// Recorder stores run summaries and their failures.
type Recorder struct {
	runs     Repository
	failures FailureSaver
}

func NewRecorder(runs Repository, failures FailureSaver) *Recorder {
	return &Recorder{runs: runs, failures: failures}
}

func (r *Recorder) Record(ctx context.Context, rep *ingest.Report) error {
	run := FromReport(rep)
	if err := r.runs.Save(ctx, &run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if r.failures == nil || len(rep.Failures) == 0 {
		return nil
	}
	if err := r.failures.SaveAll(ctx, rep.RunID, rep.Failures); err != nil {
		return fmt.Errorf("save failures: %w", err)
	}
	return nil
}
