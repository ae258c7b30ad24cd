package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// RunRequest is the body of a run trigger message.
type RunRequest struct {
	Sources       []string `json:"sources,omitempty"`
	MaxDocs       int      `json:"max_docs,omitempty"`
	Reingest      []string `json:"reingest,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

func (r RunRequest) Options() RunOptions {
	return RunOptions{Sources: r.Sources, MaxDocs: r.MaxDocs, Reingest: r.Reingest}
}

type DocumentIndexed struct {
	RunID      string `json:"run_id"`
	DocumentID string `json:"document_id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Source     string `json:"source"`
	Chunks     int    `json:"chunks"`
}

func (o *Orchestrator) publish(ctx context.Context, topic string, v any) {
	if o.publisher == nil {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := o.publisher.Publish(topic, body); err != nil {
		slog.WarnContext(ctx, "failed to publish event", "topic", topic, "error", err)
	}
}
