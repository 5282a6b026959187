package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger using zerolog.
// An adapter and every child created with With share one minimum level.
type ZerologAdapter struct {
	logger zerolog.Logger
	level  *atomic.Int32
}

func newAdapter(logger zerolog.Logger, level zerolog.Level) *ZerologAdapter {
	z := &ZerologAdapter{logger: logger.Level(zerolog.TraceLevel), level: new(atomic.Int32)}
	z.level.Store(int32(level))
	return z
}

// New builds a zerolog-backed logger writing to w.
// level is a zerolog level name ("debug", "info", ...); format is "console"
// or "json".
func New(w io.Writer, level, format string) (*ZerologAdapter, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var out io.Writer
	switch strings.ToLower(format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
		out = w
	default:
		return nil, fmt.Errorf("unknown log format %q (want console or json)", format)
	}

	return newAdapter(zerolog.New(out).With().Timestamp().Logger(), lvl), nil
}

// ParseLevel parses a level name. An empty name means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return lvl, nil
}

// NewZerologAdapterWithLogger creates an adapter wrapping an existing zerolog.Logger.
func NewZerologAdapterWithLogger(logger zerolog.Logger) *ZerologAdapter {
	return newAdapter(logger, logger.GetLevel())
}

// Debug logs a debug-level message.
func (z *ZerologAdapter) Debug(msg string, fields ...Field) {
	z.emit(zerolog.DebugLevel, msg, fields)
}

// Info logs an info-level message.
func (z *ZerologAdapter) Info(msg string, fields ...Field) {
	z.emit(zerolog.InfoLevel, msg, fields)
}

// Warn logs a warning-level message.
func (z *ZerologAdapter) Warn(msg string, fields ...Field) {
	z.emit(zerolog.WarnLevel, msg, fields)
}

// Error logs an error-level message.
func (z *ZerologAdapter) Error(msg string, fields ...Field) {
	z.emit(zerolog.ErrorLevel, msg, fields)
}

// With returns a child logger carrying fields.
func (z *ZerologAdapter) With(fields ...Field) Logger {
	ctx := z.logger.With()
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ctx = ctx.Str(f.Key, v)
		case error:
			ctx = ctx.AnErr(f.Key, v)
		default:
			ctx = ctx.Interface(f.Key, v)
		}
	}
	return &ZerologAdapter{logger: ctx.Logger(), level: z.level}
}

// SetLevel changes the minimum level of this adapter and its children.
func (z *ZerologAdapter) SetLevel(level zerolog.Level) {
	z.level.Store(int32(level))
}

// Level returns the current minimum level.
func (z *ZerologAdapter) Level() zerolog.Level {
	return zerolog.Level(z.level.Load())
}

// Logger returns the underlying zerolog.Logger.
func (z *ZerologAdapter) Logger() zerolog.Logger {
	return z.logger
}

func (z *ZerologAdapter) emit(level zerolog.Level, msg string, fields []Field) {
	if level < zerolog.Level(z.level.Load()) {
		return
	}
	// zerolog returns a nil event when the level is globally disabled.
	event := z.logger.WithLevel(level)
	if event == nil {
		return
	}
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

// addField adds a Field to a zerolog.Event.
func addField(event *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case int64:
		return event.Int64(f.Key, v)
	case uint64:
		return event.Uint64(f.Key, v)
	case float64:
		return event.Float64(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case error:
		return event.AnErr(f.Key, v)
	case fmt.Stringer:
		return event.Stringer(f.Key, v)
	default:
		return event.Interface(f.Key, v)
	}
}
