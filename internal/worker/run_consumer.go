package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"scuolakb/internal/ingest"
	"scuolakb/internal/middleware"
)

const defaultTouchInterval = 30 * time.Second

type Runner interface {
	Run(ctx context.Context, opts ingest.RunOptions) (*ingest.Report, error)
}

// RunConsumer executes run requests delivered on the run.requested topic.
type RunConsumer struct {
	ctx        context.Context
	runner     Runner
	touchEvery time.Duration
}

// NewRunConsumer returns a consumer whose runs stop between documents once
// ctx is cancelled.
func NewRunConsumer(ctx context.Context, r Runner) *RunConsumer {
	return &RunConsumer{ctx: ctx, runner: r, touchEvery: defaultTouchInterval}
}

func (c *RunConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var req ingest.RunRequest
	err := json.Unmarshal(m.Body, &req)

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(c.ctx, correlationID)

	if err != nil {
		// Poison pill
		slog.ErrorContext(ctx, "invalid run request", "error", err)
		return nil
	}

	done := make(chan struct{})
	defer close(done)
	go c.keepAlive(m, done)

	slog.InfoContext(ctx, "run request received", "sources", req.Sources, "max_docs", req.MaxDocs, "attempt", m.Attempts)
	rep, err := c.runner.Run(ctx, req.Options())
	if errors.Is(err, ingest.ErrUnknownSource) {
		slog.ErrorContext(ctx, "dropping run request", "error", err)
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "run failed", "error", err)
		return err
	}

	// Per-document failures are retried by the next run through the ledger.
	if perr := rep.Err(); perr != nil {
		slog.WarnContext(ctx, "run finished with failures", "error", perr)
	}
	return nil
}

// keepAlive stops nsqd from redelivering a message while a long run holds it.
func (c *RunConsumer) keepAlive(m *nsq.Message, done <-chan struct{}) {
	t := time.NewTicker(c.touchEvery)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			m.Touch()
		}
	}
}
