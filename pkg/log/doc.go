// Package log is docflow's structured logging facade.
//
// Components depend on the small Logger interface and attach context as
// Fields. Every Logger is a log/slog logger underneath: a handler turns slog
// records into Entries, renders them with a Formatter (JSON or text) and
// writes them to one or more Outputs. Loggers derived with With share the
// level of their root, so SetLevel on the process logger reaches every
// component.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("feed"), log.Str("range", "r-003"))
//	l.Info("consumer started", log.Int("batch", 128))
//
// ApplyConfig builds a logger from the declarative Config, including field
// redaction and per-message sampling. Libraries that want a *log.Logger get
// one from ToStdLogger; RedirectStdLog routes the global standard logger
// (used by Pebble) through a Logger.
package log
