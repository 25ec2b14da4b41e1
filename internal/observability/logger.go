package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type Logger struct {
	base *slog.Logger
}

// NewLogger writes JSON to stdout, or human-readable text with debug level
// in development.
func NewLogger(development bool) *Logger {
	return NewLoggerTo(os.Stdout, development)
}

func NewLoggerTo(w io.Writer, development bool) *Logger {
	if development {
		return NewLoggerWithHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return NewLoggerWithHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func NewLoggerWithHandler(handler slog.Handler) *Logger {
	return &Logger{base: slog.New(handler)}
}

// Discard is used by tests and tools that need a logger but no output.
func Discard() *Logger {
	return NewLoggerWithHandler(slog.NewTextHandler(io.Discard, nil))
}

func (l *Logger) Slog() *slog.Logger {
	return l.base
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.write(slog.LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.write(slog.LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.write(slog.LevelWarn, message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.write(slog.LevelError, message, fields)
}

func (l *Logger) write(level slog.Level, message string, fields map[string]any) {
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.base.LogAttrs(context.Background(), level, message, attrs...)
}
