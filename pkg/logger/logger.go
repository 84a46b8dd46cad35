// Package logger installs the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
)

// Setup installs a text handler at the given level as the slog
// default and returns it.
func Setup(level slog.Level) *slog.Logger {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(l)
	return l
}

// Error creates a structured error field
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
