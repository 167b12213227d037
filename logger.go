package fatstore

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with consistent field names for chain I/O.
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
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000), // Unreachable level
		})),
	}
}

// WithFile adds a file number field to the logger.
func (l *Logger) WithFile(ino uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("ino", ino),
	}
}

// LogRead logs a read over a chain.
func (l *Logger) LogRead(head BlockID, off uint64, n int, err error) {
	if err != nil {
		l.Error("read failed",
			"head", head,
			"offset", off,
			"error", err,
		)
	} else {
		l.Debug("read completed",
			"head", head,
			"offset", off,
			"bytes", n,
		)
	}
}

// LogWrite logs a write over a chain.
func (l *Logger) LogWrite(head BlockID, off uint64, requested, written int, err error) {
	if err != nil {
		l.Error("write failed",
			"head", head,
			"offset", off,
			"requested", requested,
			"written", written,
			"error", err,
		)
	} else {
		l.Debug("write completed",
			"head", head,
			"offset", off,
			"bytes", written,
		)
	}
}

// LogExtend logs a chain growing from blocks to want blocks.
func (l *Logger) LogExtend(head BlockID, blocks, want uint64) {
	l.Debug("extending chain",
		"head", head,
		"blocks", blocks,
		"want", want,
	)
}
