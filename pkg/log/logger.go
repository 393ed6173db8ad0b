package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level is the severity of an entry.
type Level int8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "OFF"
	}
}

// slogLevel spaces levels four apart the way slog does, Info at zero.
func (l Level) slogLevel() slog.Level { return slog.Level((int(l) - 1) * 4) }

func levelOf(sl slog.Level) Level {
	switch {
	case sl < slog.LevelInfo:
		return DebugLevel
	case sl < slog.LevelWarn:
		return InfoLevel
	case sl < slog.LevelError:
		return WarnLevel
	case sl < FatalLevel.slogLevel():
		return ErrorLevel
	default:
		return FatalLevel
	}
}

// ParseLevel converts "debug", "info", "warn"/"warning", "error" or "fatal"
// (any case) to a Level. The empty string is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// ComponentKey is the field naming the emitting component.
const ComponentKey = "component"

// Entry is one formatted record. Fields keep the order they were attached.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Fields  []Field
}

// Formatter renders an Entry.
type Formatter interface {
	Format(e *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(e *Entry, formatted []byte) error
	Close() error
}

// Logger is the logging facade used across docflow.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process.
	Fatal(msg string, fields ...Field)

	// With returns a logger that attaches fields to every entry.
	With(fields ...Field) Logger
	// WithComponent is With(Component(name)).
	WithComponent(name string) Logger

	Enabled(level Level) bool
	// SetLevel changes the threshold of this logger and every logger derived
	// from it.
	SetLevel(level Level)
	Level() Level
}

type options struct {
	level            Level
	formatter        Formatter
	outputs          []Output
	redact           []string
	sampleInitial    int
	sampleThereafter int
}

// LoggerOption configures NewLogger.
type LoggerOption func(*options)

func WithLevel(level Level) LoggerOption { return func(o *options) { o.level = level } }

func WithFormatter(f Formatter) LoggerOption { return func(o *options) { o.formatter = f } }

// WithOutput adds a sink. Without one, entries go to stderr.
func WithOutput(out Output) LoggerOption {
	return func(o *options) { o.outputs = append(o.outputs, out) }
}

// WithRedaction replaces the values of the named fields with "[REDACTED]".
func WithRedaction(keys ...string) LoggerOption {
	return func(o *options) { o.redact = append(o.redact, keys...) }
}

// WithSampling keeps the first initial entries of each level+message pair,
// then one in every thereafter.
func WithSampling(initial, thereafter int) LoggerOption {
	return func(o *options) {
		o.sampleInitial, o.sampleThereafter = initial, thereafter
	}
}

// NewLogger builds a Logger backed by log/slog. The default is info level,
// JSON lines on stderr.
func NewLogger(opts ...LoggerOption) Logger {
	o := options{level: InfoLevel, formatter: &JSONFormatter{}}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.outputs) == 0 {
		o.outputs = []Output{NewConsoleOutput()}
	}
	lv := new(slog.LevelVar)
	lv.Set(o.level.slogLevel())
	h := newPipeline(lv, o)
	return &slogLogger{sl: slog.New(h), level: lv}
}

// NewNopLogger returns a logger that drops everything.
func NewNopLogger() Logger {
	return NewLogger(WithLevel(FatalLevel+1), WithOutput(NullOutput{}))
}

type slogLogger struct {
	sl    *slog.Logger
	level *slog.LevelVar
}

func (l *slogLogger) log(level Level, msg string, fields []Field) {
	if !l.Enabled(level) {
		return
	}
	l.sl.LogAttrs(context.Background(), level.slogLevel(), msg, attrs(fields)...)
}

func (l *slogLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *slogLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *slogLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *slogLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

func (l *slogLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields)
	os.Exit(1)
}

func (l *slogLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields))
	for _, a := range attrs(fields) {
		args = append(args, a)
	}
	return &slogLogger{sl: l.sl.With(args...), level: l.level}
}

func (l *slogLogger) WithComponent(name string) Logger { return l.With(Component(name)) }

func (l *slogLogger) Enabled(level Level) bool { return level.slogLevel() >= l.level.Level() }

func (l *slogLogger) SetLevel(level Level) { l.level.Set(level.slogLevel()) }

func (l *slogLogger) Level() Level { return levelOf(l.level.Level()) }

func attrs(fields []Field) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	out := make([]slog.Attr, len(fields))
	for i, f := range fields {
		out[i] = slog.Any(f.Key, f.Value)
	}
	return out
}
