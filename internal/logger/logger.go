// Package logger holds the process-wide zerolog logger. Components take a
// child logger from GetLogger when they are constructed.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	LOG_INFO  = "info"
	LOG_DEBUG = "debug"
	LOG_WARN  = "warn"
	LOG_ERROR = "error"

	// ComponentField names the emitting part of the process
	ComponentField = "component"
)

var logger zerolog.Logger

func init() {
	SetSilentMode(true)
}

// SetSilentMode discards all output when silent, otherwise writes
// human-readable lines to stderr. The level is reset to info.
func SetSilentMode(silent bool) {
	if silent {
		SetOutput(io.Discard)
	} else {
		SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetOutput sends log output to w. Loggers obtained earlier keep their writer.
func SetOutput(w io.Writer) {
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// New returns the process logger
func New() zerolog.Logger {
	return logger
}

// GetLogger returns a logger tagged with the given component name
func GetLogger(component string) zerolog.Logger {
	return logger.With().Str(ComponentField, component).Logger()
}

// SetLevel sets the global log level. Unknown names fall back to info.
func SetLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

func Info(msg string) {
	logger.Info().Msg(msg)
}

func Debug(msg string) {
	logger.Debug().Msg(msg)
}

func Error(err error, msg string) {
	logger.Error().Err(err).Msg(msg)
}

func Warn(msg string) {
	logger.Warn().Msg(msg)
}
