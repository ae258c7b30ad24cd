// Package cli exposes the pipeline as the scuolakb command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"scuolakb/internal/app"
	"scuolakb/internal/config"
	"scuolakb/internal/ingest"
	"scuolakb/internal/logger"
	"scuolakb/internal/retrieval"
)

type Runner interface {
	Run(ctx context.Context, opts ingest.RunOptions) (*ingest.Report, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

type Server interface {
	Run(ctx context.Context) error
}

// Runtime is what the commands need from a bootstrapped process.
type Runtime struct {
	Runner    Runner
	Retriever Retriever
	Server    Server
	Rehydrate func(ctx context.Context) error
	Close     func() error
}

// open builds the runtime from the environment. Tests replace it.
var open = func(ctx context.Context) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// stdout carries command output
	slog.SetDefault(logger.New(os.Stderr, cfg.LogLevel))

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	a, err := app.New(ctx, cfg, deps)
	if err != nil {
		return nil, errors.Join(err, deps.Close())
	}
	return &Runtime{
		Runner:    a.Orchestrator,
		Retriever: a.Retrieval,
		Server:    a,
		Rehydrate: a.Rehydrate,
		Close:     deps.Close,
	}, nil
}

var rootCmd = &cobra.Command{
	Use:   "scuolakb",
	Short: "Knowledge base of Italian school regulations",
	Long: `Collects regulatory documents and news from the configured sources,
indexes them incrementally and answers questions with cited excerpts.`,
	SilenceUsage: true,
}

// Execute runs the command line with ctx, which should be cancelled on
// SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// withRuntime opens the runtime for one command and closes it afterwards.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rt.Close == nil {
			return
		}
		if err := rt.Close(); err != nil {
			slog.Warn("failed to release resources", "error", err)
		}
	}()
	return fn(ctx, rt)
}
