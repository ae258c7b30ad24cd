package retrieval

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QueryLogEntry is one line of the query log. BestDistance is omitted when
// nothing was found.
type QueryLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	Query         string        `json:"query"`
	TopK          int           `json:"top_k"`
	NumResults    int           `json:"num_results"`
	BestDistance  *float64      `json:"best_distance,omitempty"`
	Sources       []string      `json:"sources,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	LatencyMs     int64         `json:"latency_ms"`
	CorrelationID string        `json:"correlation_id"`
}

// QueryLogger appends one JSON line per query.
type QueryLogger struct {
	writer io.Writer
	closer io.Closer
	mu     sync.Mutex
	now    func() time.Time
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{writer: w, now: time.Now}
}

// NewFileQueryLogger appends to path and mirrors every line to stderr.
func NewFileQueryLogger(path string) (*QueryLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, err
	}
	l := NewQueryLogger(io.MultiWriter(os.Stderr, f))
	l.closer = f
	return l, nil
}

func (l *QueryLogger) Log(entry QueryLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.LatencyMs = entry.Duration.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.Error("failed to write query log entry", "error", err)
	}
}

func (l *QueryLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
