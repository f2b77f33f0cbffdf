// README: slog JSON logger construction shared by the API and the bench tool.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// New builds a JSON logger writing to w at the given level name
// (debug, info, warn, error; anything else means info).
func New(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: a.Value}
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String("timestamp", t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	})

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return slog.New(handler).With("hostname", host)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Discard returns a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
