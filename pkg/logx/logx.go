package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config controls the sinks built by New.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Field mutates a zerolog event.
//
// This intentionally mirrors the ergonomics of slog.Attr without depending on
// slog. Fields are applied in order; if the same key is set twice, the later
// one wins.
type Field func(e *zerolog.Event)

func String(k, v string) Field      { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field     { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger is a lightweight structured logger.
//
// The zero value is a no-op. With() returns a derived logger with additional
// fixed fields.
type Logger struct {
	base    zerolog.Logger
	hasBase bool
}

// Nop returns a logger that discards everything.
func Nop() Logger { return Logger{} }

// New builds a logger from cfg. The returned closer owns the file sink (nil
// when no file sink is configured).
func New(cfg Config) (Logger, io.Closer, error) {
	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: consoleTimeFormat,
		})
	}
	var closer io.Closer
	if cfg.File.Enabled && strings.TrimSpace(cfg.File.Path) != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return Logger{}, nil, err
		}
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return Logger{}, nil, err
		}
		sinks = append(sinks, f)
		closer = f
	}
	if len(sinks) == 0 {
		sinks = append(sinks, io.Discard)
	}

	lvl := parseLevel(cfg.Level)
	l := zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(lvl).With().Timestamp().Logger()
	return Logger{base: l, hasBase: true}, closer, nil
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "", "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l Logger) IsZero() bool { return !l.hasBase }

// With returns a derived logger carrying the given fields on every event.
func (l Logger) With(fields ...Field) Logger {
	if !l.hasBase {
		return l
	}
	ctx := l.base.With()
	child := ctx.Logger()
	// zerolog contexts only accept concrete types; replay fields through a
	// hook-less sub-logger by storing them on each event instead.
	return Logger{base: child.Hook(fieldHook(fields)), hasBase: true}
}

type fieldHook []Field

func (h fieldHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	for _, f := range h {
		f(e)
	}
}

func (l Logger) emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		f(e)
	}
	e.Msg(msg)
}

func (l Logger) Debug(msg string, fields ...Field) {
	if !l.hasBase {
		return
	}
	l.emit(l.base.Debug(), msg, fields)
}

func (l Logger) Info(msg string, fields ...Field) {
	if !l.hasBase {
		return
	}
	l.emit(l.base.Info(), msg, fields)
}

func (l Logger) Warn(msg string, fields ...Field) {
	if !l.hasBase {
		return
	}
	l.emit(l.base.Warn(), msg, fields)
}

func (l Logger) Error(msg string, fields ...Field) {
	if !l.hasBase {
		return
	}
	l.emit(l.base.Error(), msg, fields)
}
