package clog

import (
	"io"
	"log/slog"
	"os"
)

// New builds the process-wide logger: a text handler wrapped with the
// context attributes handler, writing to stderr so stdout stays free
// for command output.
func New(level slog.Level) *slog.Logger {
	return NewWithWriter(os.Stderr, level)
}

func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewAttributesHandler(handler))
}

// SetDefault installs the logger as slog's process default.
func SetDefault(level slog.Level) *slog.Logger {
	logger := New(level)
	slog.SetDefault(logger)
	return logger
}
