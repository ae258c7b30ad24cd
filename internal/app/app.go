package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"

	"scuolakb/features/failure"
	"scuolakb/features/mcp"
	"scuolakb/features/query"
	"scuolakb/features/run"
	"scuolakb/features/source"
	"scuolakb/features/stats"
	"scuolakb/internal/config"
	"scuolakb/internal/ingest"
	"scuolakb/internal/middleware"
	"scuolakb/internal/retrieval"
	src "scuolakb/internal/source"
	"scuolakb/internal/text"
	"scuolakb/internal/worker"
)

type App struct {
	Handler      http.Handler
	Orchestrator *ingest.Orchestrator
	Retrieval    *retrieval.Service
	Trigger      *worker.Trigger
	RunConsumer  *worker.RunConsumer

	cfg *config.Config
}

// New wires the pipeline and the HTTP surface on top of deps. ctx bounds the
// runs started by POST /ingest and by the NSQ consumer.
func New(ctx context.Context, cfg *config.Config, deps *Dependencies) (*App, error) {
	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	chunker, err := text.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkMinWords)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	adapter := src.NewAdapter(src.Options{
		Timeout:        cfg.FetchTimeout,
		PDFTimeout:     cfg.PDFTimeout,
		PoliteDelay:    cfg.PoliteDelay,
		MaxBytes:       cfg.MaxResponseMB << 20,
		UserAgent:      cfg.UserAgent,
		PDFDir:         cfg.PDFDir,
		MaxFeedEntries: cfg.MaxFeedEntries,
	})

	// Interfaces stay nil unless the backing store exists.
	var (
		publisher   ingest.Publisher
		recorder    ingest.Recorder
		runRepo     run.Repository
		failureRepo failure.Repository
	)
	if deps.NSQProducer != nil {
		publisher = deps.NSQProducer
	}
	if deps.DB != nil {
		runRepo = run.NewPostgresRepo(deps.DB)
		failureRepo = failure.NewPostgresRepo(deps.DB)
		recorder = run.NewRecorder(runRepo, failureRepo)
	}

	orchestrator := ingest.NewOrchestrator(ingest.Config{
		Sources:          sources,
		MaxDocsPerRun:    cfg.MaxDocsPerRun,
		MinDocumentChars: cfg.MinDocumentChars,
		SnapshotPath:     cfg.SnapshotPath,
		DiscoveryPath:    cfg.DiscoveryPath,
		FetchedPath:      cfg.FetchedPath,
	}, ingest.Dependencies{
		Sources:   adapter,
		Embedder:  deps.Embedder,
		Chunker:   chunker,
		Ledger:    deps.Ledger,
		Corpus:    deps.Corpus,
		Index:     deps.Index,
		Publisher: publisher,
		Recorder:  recorder,
	})

	retrievalService := retrieval.NewService(deps.Embedder, deps.Index, cfg.SearchTopK, deps.QueryLogger)
	trigger := worker.NewTrigger(ctx, publisher, orchestrator)

	// Handlers
	queryHandler := query.NewHandler(retrievalService)
	sourceService := source.NewService(sources, cfg.FetchedPath)
	sourceHandler := source.NewHandler(sourceService)
	runHandler := run.NewHandler(runRepo, trigger)

	statsHandler := stats.NewHandler(deps.Index, deps.Ledger, runRepo, failureRepo)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.CorrelationHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /query", middleware.CorrelationID(enableCORS(queryHandler.Query)))
	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("GET /sources", middleware.CorrelationID(enableCORS(sourceHandler.List)))
	mux.Handle("GET /sources/{name}/documents", middleware.CorrelationID(enableCORS(sourceHandler.Documents)))

	mux.Handle("POST /ingest", middleware.CorrelationID(enableCORS(runHandler.Start)))

	// Feature: MCP tools over the same retrieval service
	mcpHandler := mcp.NewHandler(retrievalService, sourceService)
	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(enableCORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(enableCORS(mcpHandler.HandleMessage)))

	// Run history lives in postgres only.
	if deps.DB != nil {
		failureHandler := failure.NewHandler(failure.NewService(failureRepo, deps.Ledger))

		mux.Handle("GET /runs", middleware.CorrelationID(enableCORS(runHandler.List)))
		mux.Handle("GET /failures", middleware.CorrelationID(enableCORS(failureHandler.List)))
		mux.Handle("POST /failures/{id}/retry", middleware.CorrelationID(enableCORS(failureHandler.Retry)))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	return &App{
		Handler:      mux,
		Orchestrator: orchestrator,
		Retrieval:    retrievalService,
		Trigger:      trigger,
		RunConsumer:  worker.NewRunConsumer(ctx, orchestrator),
		cfg:          cfg,
	}, nil
}

// Rehydrate loads the last snapshot so queries can be served before the
// first run of this process.
func (a *App) Rehydrate(ctx context.Context) error {
	n, err := a.Orchestrator.Rehydrate(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "index rehydrated", "chunks", n)
	return nil
}

// Run serves HTTP until ctx is cancelled. With events enabled it also
// consumes run requests from NSQ.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.EnableEvents {
		consumer, err := nsq.NewConsumer(config.TopicRunRequested, config.ChannelIngest, nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq consumer error: %w", err)
		}
		consumer.AddHandler(a.RunConsumer)
		if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to NSQLookupd", "error", err)
		} else {
			slog.Info("NSQ run consumer connected", "topic", config.TopicRunRequested)
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	err := srv.ListenAndServe()
	// in-process runs observe ctx between documents
	a.Trigger.Wait()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
