package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"scuolakb/internal/adapter/gemini"
	qstore "scuolakb/internal/adapter/qdrant"
	wstore "scuolakb/internal/adapter/weaviate"
	"scuolakb/internal/config"
	"scuolakb/internal/index"
	"scuolakb/internal/ledger"
	"scuolakb/internal/retrieval"
	"scuolakb/internal/vector"
)

// Embedder is satisfied by *gemini.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Dependencies struct {
	// DB is set only with the postgres store driver.
	DB          *sql.DB
	Ledger      *ledger.Ledger
	Corpus      *index.Memory
	Index       index.Index
	Embedder    Embedder
	NSQProducer *nsq.Producer
	QueryLogger *retrieval.QueryLogger

	closers []func() error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{Corpus: index.NewMemory()}
	retryDelay := cfg.RetryDelay()

	// Store
	var store ledger.Store
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err := ledger.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, s.Close)
		store = s
	default:
		db, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %w", err)
		}
		deps.closers = append(deps.closers, db.Close)
		if err := PingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			deps.Close()
			return nil, err
		}
		if err := migrateUp(db, cfg.MigrationPath); err != nil {
			deps.Close()
			return nil, err
		}
		deps.DB = db
		store = ledger.NewPostgresStore(db)
	}

	deps.Ledger = ledger.New(store)
	if err := deps.Ledger.Load(ctx); err != nil {
		deps.Close()
		return nil, err
	}

	// Index
	switch cfg.IndexBackend {
	case config.IndexWeaviate:
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		vecStore := wstore.NewStore(wClient)
		if err := EnsureSchemaWithRetry(ctx, vecStore, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		deps.Index = vecStore
	case config.IndexQdrant:
		qClient, err := qstore.Dial(cfg.QdrantHost, cfg.QdrantPort)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("qdrant client error: %w", err)
		}
		deps.closers = append(deps.closers, qClient.Close)
		deps.Index = qstore.NewStore(qClient, cfg.QdrantCollection)
	default:
		deps.Index = deps.Corpus
	}

	// Embeddings
	embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("gemini embedder error: %w", err)
	}
	deps.closers = append(deps.closers, embedder.Close)
	deps.Embedder = embedder

	// Events
	if cfg.EnableEvents {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.closers = append(deps.closers, func() error { producer.Stop(); return nil })
		deps.NSQProducer = producer

		go func() {
			// nsqd may still be starting next to us
			time.Sleep(2 * time.Second)
			if err := CreateTopics(ctx, cfg.NSQDHTTP, config.Topics()); err != nil {
				slog.Warn("failed to create NSQ topics", "error", err)
			}
		}()
	}

	ql, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to open query log, falling back to stderr", "path", cfg.QueryLogPath, "error", err)
		ql = retrieval.NewQueryLogger(os.Stderr)
	}
	deps.closers = append(deps.closers, ql.Close)
	deps.QueryLogger = ql

	return deps, nil
}

// Close releases everything Bootstrap opened, newest first.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// PingWithRetry waits for the database to accept connections.
func PingWithRetry(ctx context.Context, db *sql.DB, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", attempts)
		if i < attempts-1 {
			if werr := sleep(ctx, delay); werr != nil {
				return werr
			}
		}
	}
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to ping db: %w", err)
	}
	return nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied successfully")
	return nil
}

// EnsureSchemaWithRetry retries vector.EnsureSchema until Weaviate answers.
func EnsureSchemaWithRetry(ctx context.Context, client vector.SchemaClient, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = vector.EnsureSchema(ctx, client); err == nil {
			slog.Info("weaviate schema ensured")
			return nil
		}
		slog.Warn("failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			if werr := sleep(ctx, delay); werr != nil {
				return werr
			}
		}
	}
	return err
}

// CreateTopics pre-creates topics through the nsqd HTTP API so consumers
// querying lookupd do not fail before the first publish.
func CreateTopics(ctx context.Context, nsqdHTTP string, topics []string) error {
	var errs []error
	for _, topic := range topics {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := http.DefaultClient.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			errs = append(errs, fmt.Errorf("create topic %s: %w", topic, err))
			continue
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
		if resp.StatusCode != http.StatusOK {
			errs = append(errs, fmt.Errorf("create topic %s: status %d", topic, resp.StatusCode))
			continue
		}
		slog.Info("NSQ topic created", "topic", topic)
	}
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
