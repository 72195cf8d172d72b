// Package logging provides structured logging for timering.
//
// It wraps log/slog so every component logs the same way. Output is text or
// JSON, the level is configurable, and each component gets its own logger.
//
// Usage:
//
//	logging.Init(slog.LevelInfo, false)
//
//	log := logging.Component("retention")
//	log.Info("evicted samples", "buffer", name, "count", n)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu sync.RWMutex

	// Logger is the global logger instance.
	Logger *slog.Logger
)

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stderr, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps a config string to a slog level. Unknown strings map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func current() *slog.Logger {
	mu.RLock()
	l := Logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Init(slog.LevelInfo, false)
	mu.RLock()
	defer mu.RUnlock()
	return Logger
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// Component returns a logger for a specific component.
//
//	log := logging.Component("ingestion")
//	log.Info("started") // time=... level=INFO component=ingestion msg=started
func Component(name string) *slog.Logger {
	return current().With("component", name)
}

// WithContext returns a logger carrying the buffer name and stream id stored
// in ctx, if any.
func WithContext(ctx context.Context) *slog.Logger {
	logger := current()

	if name, ok := ctx.Value(contextKeyBuffer).(string); ok {
		logger = logger.With("buffer", name)
	}
	if stream, ok := ctx.Value(contextKeyStream).(string); ok {
		logger = logger.With("stream", stream)
	}
	if requestID, ok := ctx.Value(contextKeyRequestID).(uint64); ok {
		logger = logger.With("request_id", requestID)
	}

	return logger
}

type contextKey int

const (
	contextKeyBuffer contextKey = iota
	contextKeyStream
	contextKeyRequestID
)

// ContextWithBuffer tags ctx with the name of the buffer being operated on.
func ContextWithBuffer(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKeyBuffer, name)
}

// ContextWithStream tags ctx with a replay stream identifier.
func ContextWithStream(ctx context.Context, stream string) context.Context {
	return context.WithValue(ctx, contextKeyStream, stream)
}

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID uint64) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) { current().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { current().Info(msg, args...) }

// Warn logs at warning level.
func Warn(msg string, args ...any) { current().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { current().Error(msg, args...) }
