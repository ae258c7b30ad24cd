package failure

import "time"

// Failure is one document or source that could not be ingested in a run.
type Failure struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	URL        string    `json:"url"`
	Source     string    `json:"source"`
	Stage      string    `json:"stage"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	CreatedAt  time.Time `json:"created_at"`
}
