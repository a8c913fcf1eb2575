package logger

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the process-wide slog handler. Dev mode logs human-readable
// text at debug level, production logs JSON at info for the journal. Logs go
// to stderr so command output on stdout stays clean.
func Init(isDev bool) {
	level := slog.LevelInfo
	if isDev {
		level = slog.LevelDebug
	}
	slog.SetDefault(New(os.Stderr, isDev, level))
}

func New(w io.Writer, isDev bool, level slog.Level) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}

	if isDev {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
