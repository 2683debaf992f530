// Package logging builds the process logger and bridges it into the Temporal SDK.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"order-approval-service/internal/config"
)

// New returns a zerolog logger configured from c.
// format: console|json; level: debug|info|warn|error.
// If c.File != "", logs write to a rotating file in JSON.
func New(c config.Log, service string) zerolog.Logger {
	var w io.Writer
	switch {
	case strings.TrimSpace(c.File) != "":
		w = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
			Compress:   c.Compress,
		}
	case strings.ToLower(c.Format) == "json":
		w = os.Stderr
	default:
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(w, c.Level, service)
}

func NewWithWriter(w io.Writer, level, service string) zerolog.Logger {
	l := zerolog.New(w).Level(parseLevel(level)).With().Timestamp()
	if service != "" {
		l = l.Str("service", service)
	}
	return l.Logger()
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// TemporalLogger adapts zerolog to log.Logger so workflow.GetLogger and
// activity.GetLogger write through the process logger. The SDK still wraps it
// with its replay-aware logger.
type TemporalLogger struct {
	l zerolog.Logger
}

var (
	_ log.Logger     = (*TemporalLogger)(nil)
	_ log.WithLogger = (*TemporalLogger)(nil)
)

func NewTemporalLogger(l zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{l: l}
}

func (t *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	t.l.Debug().Fields(keyvals).Msg(msg)
}

func (t *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	t.l.Info().Fields(keyvals).Msg(msg)
}

func (t *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	t.l.Warn().Fields(keyvals).Msg(msg)
}

func (t *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	t.l.Error().Fields(keyvals).Msg(msg)
}

func (t *TemporalLogger) With(keyvals ...interface{}) log.Logger {
	return &TemporalLogger{l: t.l.With().Fields(keyvals).Logger()}
}
