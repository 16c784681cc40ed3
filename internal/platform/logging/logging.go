// Package logging constructs the process logger.
//
// The logger is built once at startup and injected into components; nothing in
// the engine writes through a process-global logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Level is a zerolog level string (trace, debug, info, warn, error).
	// Unknown values fall back to info.
	Level string

	// JSON emits raw JSON lines instead of the console writer.
	JSON bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a zerolog.Logger from the provided options.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
