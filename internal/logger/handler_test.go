package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scuolakb/internal/middleware"
)

func TestContextHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	jsonHandler := slog.NewJSONHandler(&buf, nil)
	h := NewContextHandler(jsonHandler)
	logger := slog.New(h)

	ctx := context.Background()
	ctx = middleware.WithCorrelationID(ctx, "test-correlation-id")
	ctx = middleware.WithRunID(ctx, "run-1")

	logger.InfoContext(ctx, "test message")

	var logMap map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logMap))
	assert.Equal(t, "test-correlation-id", logMap["correlation_id"])
	assert.Equal(t, "run-1", logMap["run_id"])
}

func TestContextHandler_WithAttrsKeepsContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil))).With("component", "ingest")

	logger.InfoContext(middleware.WithRunID(context.Background(), "run-2"), "hello")

	var logMap map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logMap))
	assert.Equal(t, "ingest", logMap["component"])
	assert.Equal(t, "run-2", logMap["run_id"])
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
