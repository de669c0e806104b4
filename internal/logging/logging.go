// Package logging wires up zerolog the way every variant of the
// teacher's server does: JSON for production, a console writer for
// local development, and a couple of helpers for recording errors
// and recovered panics with full context.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwatch/alertserver/internal/config"
)

// New builds a structured logger according to the resolved config.
func New(level config.LogLevel, format config.LogFormat) zerolog.Logger {
	var output io.Writer = os.Stdout

	var zlevel zerolog.Level
	switch level {
	case config.LogLevelDebug:
		zlevel = zerolog.DebugLevel
	case config.LogLevelWarn:
		zlevel = zerolog.WarnLevel
	case config.LogLevelError:
		zlevel = zerolog.ErrorLevel
	default:
		zlevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zlevel)

	if format == config.LogFormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "tickwatch").
		Logger()
}

// Error logs err with msg and any extra context fields.
func Error(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// ErrorWithStack is for unexpected failures where the call stack
// matters for diagnosis.
func ErrorWithStack(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err).Str("stack", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Panic logs a recovered panic. Call from inside a recover() block;
// it does not itself panic or exit.
func Panic(logger zerolog.Logger, recovered any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic", recovered).
		Str("stack", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
