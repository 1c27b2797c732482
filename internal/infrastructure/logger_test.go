package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"brvlicense/internal/config"
)

func TestInitializeLoggerWritesJSONFile(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "logs", "test.log")

	err := InitializeLogger(config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	})
	require.NoError(t, err)

	GetLogger().Info("license state saved", "status", "ACTIVE")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]interface{}
	firstLine := strings.SplitN(strings.TrimSpace(string(content)), "\n", 2)[0]
	require.NoError(t, json.Unmarshal([]byte(firstLine), &entry))

	assert.Equal(t, "license state saved", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "ACTIVE", entry["status"])
}

func TestInitializeLoggerBothOutputCreatesFile(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "both.log")

	err := InitializeLogger(config.LoggingConfig{
		Level:    "debug",
		Format:   "json",
		Output:   "both",
		FilePath: logFile,
	})
	require.NoError(t, err)

	GetLogger().Debug("dual output check")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "dual output check")
}

func TestInitializeLoggerTextFormat(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "text.log")

	err := InitializeLogger(config.LoggingConfig{
		Level:    "warn",
		Format:   "text",
		Output:   "file",
		FilePath: logFile,
	})
	require.NoError(t, err)

	GetLogger().Warn("grace window engaged")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "level=WARN")
	assert.Contains(t, string(content), "grace window engaged")
}

func TestInitializeLoggerHonorsLevel(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "level.log")

	err := InitializeLogger(config.LoggingConfig{
		Level:    "error",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	})
	require.NoError(t, err)

	GetLogger().Info("should be filtered")
	GetLogger().Error("should be kept")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "should be filtered")
	assert.Contains(t, string(content), "should be kept")
}

func TestInitializeLoggerOnlyOnce(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	err := InitializeLogger(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	})
	require.NoError(t, err)
	first := GetLogger()

	// Second initialization is a no-op even with a different config.
	err = InitializeLogger(config.LoggingConfig{
		Level:  "debug",
		Format: "text",
		Output: "stdout",
	})
	require.NoError(t, err)
	assert.Same(t, first, GetLogger())
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&traceHandler{Handler: handler})
}

func TestTraceHandlerInjectsContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	ctx := WithTraceID(context.Background(), "trace-abc-123")
	logger.InfoContext(ctx, "traced message")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-abc-123", entry["trace_id"])
}

func TestTraceHandlerOmitsMissingTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.InfoContext(context.Background(), "untraced message")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry["trace_id"]
	assert.False(t, ok)
}

func TestTraceHandlerFallsBackToSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "validate")
	defer span.End()

	logger.InfoContext(ctx, "span correlated")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
}

func TestTraceHandlerPreservesWrapperOnWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	ctx := WithTraceID(context.Background(), "trace-with-attrs")
	logger.With("component", "test").WithGroup("detail").InfoContext(ctx, "grouped", "k", "v")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-with-attrs", entry["trace_id"])
	assert.Equal(t, "test", entry["component"])
}

func TestGetTraceID(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))

	ctx := WithTraceID(context.Background(), "abc")
	assert.Equal(t, "abc", GetTraceID(ctx))
}
