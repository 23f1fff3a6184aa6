// Package logging builds the structured loggers used across the sequencer.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options controls the handler created by New.
type Options struct {
	// Debug lowers the minimum level to Debug.
	Debug bool
	// NoColor disables ANSI colors, useful when stderr is not a terminal.
	NoColor bool
	// AddSource adds file:line to every record.
	AddSource bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a tint-backed slog logger.
func New(opts Options) *slog.Logger { // A
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handler := tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		AddSource:  opts.AddSource,
		NoColor:    opts.NoColor,
	})

	return slog.New(handler)
}

// Discard returns a logger that drops every record. Tests use it to keep
// output quiet.
func Discard() *slog.Logger { // A
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError + 1,
	}))
}
