// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
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

// NewHandler builds the handler for a format: "json", "text" or "pretty".
// "pretty" falls back to text when w is not a terminal.
func NewHandler(w io.Writer, logLevel, format string) slog.Handler {
	level := ParseLevel(logLevel)

	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "pretty":
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			return tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen})
		}

		fallthrough
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
}

func Setup(logLevel, format string) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, logLevel, format)))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
