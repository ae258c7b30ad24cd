package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"scuolakb/internal/text"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrValidation      = errors.New("invalid configuration")
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	IndexMemory   = "memory"
	IndexWeaviate = "weaviate"
	IndexQdrant   = "qdrant"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"scuolakb"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"scuolakb"`

	// StoreDriver selects where the ledger, runs and failures live.
	StoreDriver   string `envconfig:"STORE_DRIVER" default:"postgres"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"data/scuolakb.db"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	IndexBackend     string `envconfig:"INDEX_BACKEND" default:"memory"`
	WeaviateHost     string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme   string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"normativa_scuola"`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`

	EnableEvents bool   `envconfig:"ENABLE_EVENTS" default:"false"`
	NSQLookupd   string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost     string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP     string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Chunking
	ChunkSize        int `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap     int `envconfig:"CHUNK_OVERLAP" default:"100"`
	ChunkMinWords    int `envconfig:"CHUNK_MIN_WORDS" default:"20"`
	MinDocumentChars int `envconfig:"MIN_DOCUMENT_CHARS" default:"100"`

	// Fetching
	MaxDocsPerRun  int           `envconfig:"MAX_DOCS_PER_RUN" default:"100"`
	MaxFeedEntries int           `envconfig:"MAX_FEED_ENTRIES" default:"50"`
	FetchTimeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	PDFTimeout     time.Duration `envconfig:"PDF_TIMEOUT" default:"60s"`
	PoliteDelay    time.Duration `envconfig:"POLITE_DELAY" default:"1s"`
	MaxResponseMB  int64         `envconfig:"MAX_RESPONSE_MB" default:"25"`
	UserAgent      string        `envconfig:"USER_AGENT" default:"Mozilla/5.0 (compatible; scuolakb/1.0)"`
	SourcesFile    string        `envconfig:"SOURCES_FILE" default:"sources.yaml"`

	// Outputs
	SnapshotPath  string `envconfig:"SNAPSHOT_PATH" default:"data/knowledge_base.json"`
	DiscoveryPath string `envconfig:"DISCOVERY_PATH" default:"data/discovery.json"`
	FetchedPath   string `envconfig:"FETCHED_PATH" default:"data/fetched_documents.json"`
	PDFDir        string `envconfig:"PDF_DIR" default:"data/pdfs"`

	// Retrieval & server
	SearchTopK   int    `envconfig:"SEARCH_TOP_K" default:"5"`
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell; a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrValidation, c.StoreDriver)
	}

	switch c.IndexBackend {
	case IndexMemory, IndexWeaviate, IndexQdrant:
	default:
		return fmt.Errorf("%w: unknown INDEX_BACKEND %q", ErrValidation, c.IndexBackend)
	}

	if err := text.ValidateParams(c.ChunkSize, c.ChunkOverlap, c.ChunkMinWords); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if c.MaxDocsPerRun <= 0 {
		return fmt.Errorf("%w: MAX_DOCS_PER_RUN must be positive", ErrValidation)
	}
	if c.MaxFeedEntries <= 0 {
		return fmt.Errorf("%w: MAX_FEED_ENTRIES must be positive", ErrValidation)
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("%w: SEARCH_TOP_K must be positive", ErrValidation)
	}
	if c.FetchTimeout <= 0 || c.PDFTimeout <= 0 {
		return fmt.Errorf("%w: fetch timeouts must be positive", ErrValidation)
	}
	if c.SnapshotPath == "" {
		return fmt.Errorf("%w: SNAPSHOT_PATH", ErrMissingRequired)
	}
	return nil
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}
