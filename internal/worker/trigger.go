package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"scuolakb/internal/config"
	"scuolakb/internal/ingest"
	"scuolakb/internal/middleware"
)

var ErrNoRunner = errors.New("no runner configured")

// Trigger hands run requests to NSQ when a publisher is configured, and
// otherwise runs them in a background goroutine of this process.
type Trigger struct {
	ctx       context.Context
	publisher ingest.Publisher
	runner    Runner
	wg        sync.WaitGroup
}

// NewTrigger builds a Trigger. p may be nil; in-process runs use ctx, not the
// context of the request that asked for them.
func NewTrigger(ctx context.Context, p ingest.Publisher, r Runner) *Trigger {
	return &Trigger{ctx: ctx, publisher: p, runner: r}
}

func (t *Trigger) Request(ctx context.Context, req ingest.RunRequest) error {
	if t.publisher != nil {
		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode run request: %w", err)
		}
		if err := t.publisher.Publish(config.TopicRunRequested, body); err != nil {
			return fmt.Errorf("publish run request: %w", err)
		}
		return nil
	}

	if t.runner == nil {
		return ErrNoRunner
	}

	runCtx := t.ctx
	if req.CorrelationID != "" {
		runCtx = middleware.WithCorrelationID(runCtx, req.CorrelationID)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		rep, err := t.runner.Run(runCtx, req.Options())
		if err != nil {
			slog.ErrorContext(runCtx, "background run failed", "error", err)
			return
		}
		if perr := rep.Err(); perr != nil {
			slog.WarnContext(runCtx, "background run finished with failures", "error", perr)
		}
	}()
	return nil
}

// Wait blocks until every in-process run has returned.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
