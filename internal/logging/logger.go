package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON slog logger on stdout tagged with the application name.
// Invalid level strings default to info.
func New(appName, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, appName, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, appName, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	logger := slog.New(handler)
	if appName != "" {
		logger = logger.With(slog.String("app", appName))
	}
	return logger
}

// ParseLevel converts debug/info/warn/error into a slog level, falling back to info.
func ParseLevel(level string) slog.Level {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl.Level()
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}
