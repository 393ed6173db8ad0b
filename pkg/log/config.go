package log

import (
	"fmt"
	stdlog "log"
	"strings"
)

// OutputConfig describes one output sink.
type OutputConfig struct {
	Type string // console | file | null
	Path string // file only
}

// Config is the declarative logger configuration.
type Config struct {
	Level   string
	Format  string // json | text
	Outputs []OutputConfig

	// RedactKeys lists field keys whose values are replaced with "[REDACTED]".
	RedactKeys []string
	// SampleInitial and SampleThereafter enable per-message sampling when
	// SampleThereafter > 0.
	SampleInitial    int
	SampleThereafter int
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, err
	}
	opts := []LoggerOption{WithLevel(level)}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts = append(opts, WithFormatter(&TextFormatter{}))
	case "json":
		opts = append(opts, WithFormatter(&JSONFormatter{}))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	for _, oc := range cfg.Outputs {
		switch strings.ToLower(oc.Type) {
		case "", "console":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case "file":
			fo, err := NewFileOutput(oc.Path)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithOutput(fo))
		case "null":
			opts = append(opts, WithOutput(&NullOutput{}))
		default:
			return nil, fmt.Errorf("unknown log output %q", oc.Type)
		}
	}
	if len(cfg.RedactKeys) > 0 {
		opts = append(opts, WithRedaction(cfg.RedactKeys...))
	}
	if cfg.SampleThereafter > 0 {
		opts = append(opts, WithSampling(cfg.SampleInitial, cfg.SampleThereafter))
	}
	return NewLogger(opts...), nil
}

type stdWriter struct {
	l     Logger
	level Level
}

func (w stdWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	switch w.level {
	case DebugLevel:
		w.l.Debug(msg)
	case WarnLevel:
		w.l.Warn(msg)
	case ErrorLevel, FatalLevel:
		w.l.Error(msg)
	default:
		w.l.Info(msg)
	}
	return len(p), nil
}

// ToStdLogger returns a *log.Logger that writes through l at level.
func ToStdLogger(l Logger, level Level) *stdlog.Logger {
	return stdlog.New(stdWriter{l: l, level: level}, "", 0)
}

// RedirectStdLog routes the standard library's global logger through l.
// The returned func restores the previous settings.
func RedirectStdLog(l Logger) func() {
	prevOut := stdlog.Writer()
	prevFlags := stdlog.Flags()
	prevPrefix := stdlog.Prefix()
	stdlog.SetOutput(stdWriter{l: l.WithComponent("stdlog"), level: InfoLevel})
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	return func() {
		stdlog.SetOutput(prevOut)
		stdlog.SetFlags(prevFlags)
		stdlog.SetPrefix(prevPrefix)
	}
}
