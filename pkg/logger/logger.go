// Package logger provides a structured zerolog logger for scanrelay.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Init creates and returns a zerolog.Logger configured with the given log level
// and format. Supported levels: debug, info, warn, error. Defaults to info.
// Format is console, json or auto; auto picks console when stderr is a terminal.
func Init(level, format string) zerolog.Logger {
	return New(os.Stderr, level, format, term.IsTerminal(int(os.Stderr.Fd())))
}

// New builds a logger writing to w. tty decides the auto format.
func New(w io.Writer, level, format string, tty bool) zerolog.Logger {
	var lvl zerolog.Level
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "info":
		lvl = zerolog.InfoLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}

	out := w
	if format == "console" || (format != "json" && tty) {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
