// Package logging builds the zerolog loggers used across the service.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Field names shared by every component.
const (
	COMPONENT = "component"
	SESSION   = "session"
	USER      = "user"
	EVENT     = "event"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New returns the root logger. pretty selects the human readable console writer.
func New(level string, pretty bool) zerolog.Logger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component tags l with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(COMPONENT, name).Logger()
}

// Nop is used by tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
