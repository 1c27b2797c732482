package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"brvlicense/internal/config"
)

var (
	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once
	globalLogFile    *os.File
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// TraceIDContextKey is the context key for trace IDs
const TraceIDContextKey contextKey = "trace_id"

// InitializeLogger sets up the global logger based on configuration.
// It should be called once at application startup.
func InitializeLogger(cfg config.LoggingConfig) error {
	var initErr error
	globalLoggerOnce.Do(func() {
		logger, err := createLogger(cfg)
		if err != nil {
			initErr = fmt.Errorf("failed to create logger: %w", err)
			return
		}
		globalLogger = logger
		slog.SetDefault(logger)
	})
	return initErr
}

// createLogger builds a slog.Logger from the logging configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var writer io.Writer

	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "file":
		file, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		globalLogFile = file
		writer = file
	case "both":
		file, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		globalLogFile = file
		writer = io.MultiWriter(os.Stdout, file)
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Level),
		AddSource: true,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	handler = &traceHandler{Handler: handler}

	return slog.New(handler), nil
}

// openLogFile opens the log file for appending, creating parent
// directories as needed.
func openLogFile(path string) (*os.File, error) {
	if path == "" {
		path = filepath.Join(config.DefaultLogsDir, config.AppName+".log")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// parseLogLevel converts a string level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// traceHandler wraps a slog.Handler to inject trace IDs from context.
// It prefers the explicit request trace ID and falls back to the
// OpenTelemetry span trace ID when a span is active.
type traceHandler struct {
	slog.Handler
}

// Handle adds trace_id to the record if present in context
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := GetTraceID(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	} else if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs returns a new traceHandler with the given attributes
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup returns a new traceHandler with the given group name
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDContextKey).(string); ok {
		return traceID
	}
	return ""
}

// GetLogger returns the global logger, initializing a default one if needed
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		globalLoggerOnce.Do(func() {
			handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			})
			globalLogger = slog.New(&traceHandler{Handler: handler})
			slog.SetDefault(globalLogger)
		})
	}
	return globalLogger
}

// CloseLogFile closes the log file if one is open
func CloseLogFile() error {
	if globalLogFile != nil {
		err := globalLogFile.Close()
		globalLogFile = nil
		return err
	}
	return nil
}

// ResetLoggerForTesting resets the global logger state. Only for tests.
func ResetLoggerForTesting() {
	_ = CloseLogFile()
	globalLogger = nil
	globalLoggerOnce = sync.Once{}
}
