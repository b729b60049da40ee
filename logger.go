package walbuf

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/walbuf/buffer"
)

// Logger wraps slog.Logger with log-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithLSN adds an lsn field to the logger.
func (l *Logger) WithLSN(lsn buffer.LSN) *Logger {
	return &Logger{
		Logger: l.Logger.With("lsn", uint64(lsn)),
	}
}

// WithModule adds a module field to the logger.
func (l *Logger) WithModule(m buffer.Module) *Logger {
	return &Logger{
		Logger: l.Logger.With("module", m.String()),
	}
}

// LogAppend logs an append operation.
func (l *Logger) LogAppend(ctx context.Context, lsn buffer.LSN, module buffer.Module, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "append failed",
			"module", module.String(),
			"size", size,
			"error", err,
		)
		return
	}
	if l.Enabled(ctx, slog.LevelDebug) {
		l.DebugContext(ctx, "append completed",
			"lsn", uint64(lsn),
			"module", module.String(),
			"size", size,
		)
	}
}

// LogFlush logs a synchronous flush.
func (l *Logger) LogFlush(ctx context.Context, records int, durable buffer.LSN, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "flush failed",
			"records", records,
			"durable_lsn", uint64(durable),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "flush completed",
		"records", records,
		"durable_lsn", uint64(durable),
		"duration", elapsed,
	)
}

// LogRecovery logs where a reopened log resumes.
func (l *Logger) LogRecovery(ctx context.Context, start buffer.LSN, source string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "log recovery failed",
			"source", source,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "log recovery completed",
		"start_lsn", uint64(start),
		"source", source,
	)
}

// LogClose logs a close operation.
func (l *Logger) LogClose(ctx context.Context, durable buffer.LSN, pending int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "log close failed",
			"durable_lsn", uint64(durable),
			"pending", pending,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "log closed",
		"durable_lsn", uint64(durable),
	)
}
