// Package logging builds the process-wide slog.Logger.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// Err wraps an error as a log attribute that tint renders in colour and the
// JSON handler renders as a plain "err" string.
var Err = tint.Err //nolint:gochecknoglobals

// New returns a JSON logger for production and a coloured tint logger for
// everything else. debug lowers the level to Debug.
func New(w io.Writer, production, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	if production {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}
