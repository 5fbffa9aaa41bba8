package visualindex

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with consistent field names for index operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, a text handler writing to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON lines to w at the given level.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{Logger: l.Logger.With("dimension", dim)}
}

// LogVectorize logs the outcome of vectorizing one image.
func (l *Logger) LogVectorize(ctx context.Context, id string, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "vectorize failed",
			"id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "vectorize completed",
		"id", id,
		"elapsed", elapsed,
	)
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "insert completed", "id", id)
}

// LogBatch logs the summary of a batch of indexed images.
func (l *Logger) LogBatch(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch completed with failures",
			"total", count,
			"failed", failed,
			"success", count-failed,
		)
		return
	}
	l.InfoContext(ctx, "batch completed", "count", count)
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"k", k,
		"results", found,
	)
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, requested, marked int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"requested", requested,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "delete completed",
		"requested", requested,
		"marked", marked,
	)
}

// LogPurge logs a purge of soft-deleted entries.
func (l *Logger) LogPurge(ctx context.Context, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "purge failed", "error", err)
		return
	}
	l.InfoContext(ctx, "purge completed", "removed", removed)
}

// LogSync logs a backend sync.
func (l *Logger) LogSync(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "sync failed", "error", err)
		return
	}
	l.DebugContext(ctx, "sync completed")
}
