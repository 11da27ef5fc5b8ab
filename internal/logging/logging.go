// Package logging builds the process logger on zerolog and adapts it to
// the func(level, msg string) activity callbacks used across the worker.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config selects level, format and an optional log file.
type Config struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	File   string `yaml:"file"`
}

// New builds a logger writing to out (console or JSON) and, when cfg.File
// is set, appending JSON lines to that file. The returned closer closes the
// file; it is a no-op otherwise.
func New(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	var primary io.Writer = out
	if !strings.EqualFold(cfg.Format, "json") {
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}

	writers := []io.Writer{primary}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	var w io.Writer = primary
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(w).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	return logger, closer, nil
}

// ParseLevel maps a level name to a zerolog level, returning def for
// unknown names.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// ActivityFn adapts logger to the activity callback shape. "success" logs
// at info with success=true; unknown levels log at info.
func ActivityFn(logger zerolog.Logger) func(level, msg string) {
	return func(level, msg string) {
		switch level {
		case "success":
			logger.Info().Bool("success", true).Msg(msg)
		default:
			logger.WithLevel(ParseLevel(level, zerolog.InfoLevel)).Msg(msg)
		}
	}
}

// TraceFn returns a runner trace sink that logs each line at debug.
func TraceFn(logger zerolog.Logger) func(msg string) {
	l := logger.With().Str("component", "runner").Logger()
	return func(msg string) {
		l.Debug().Msg(msg)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
