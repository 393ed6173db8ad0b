package log

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
)

// pipeline is the slog.Handler behind every Logger: it turns records into
// Entries, renders them with the Formatter and fans out to the outputs.
type pipeline struct {
	sink   *sink
	attrs  []slog.Attr
	prefix string
}

type sink struct {
	level     *slog.LevelVar
	formatter Formatter
	outputs   []Output
	redact    map[string]struct{}
	sampler   *sampler
}

func newPipeline(level *slog.LevelVar, o options) *pipeline {
	s := &sink{level: level, formatter: o.formatter, outputs: o.outputs}
	if len(o.redact) > 0 {
		s.redact = make(map[string]struct{}, len(o.redact))
		for _, k := range o.redact {
			s.redact[k] = struct{}{}
		}
	}
	if o.sampleThereafter > 0 {
		s.sampler = newSampler(o.sampleInitial, o.sampleThereafter)
	}
	return &pipeline{sink: s}
}

func (p *pipeline) Enabled(_ context.Context, l slog.Level) bool {
	return l >= p.sink.level.Level()
}

func (p *pipeline) Handle(_ context.Context, r slog.Record) error {
	if p.sink.sampler != nil && !p.sink.sampler.allow(r.Level, r.Message) {
		return nil
	}
	e := &Entry{
		Time:    r.Time,
		Level:   levelOf(r.Level),
		Message: r.Message,
		Fields:  make([]Field, 0, len(p.attrs)+r.NumAttrs()),
	}
	for _, a := range p.attrs {
		e.Fields = append(e.Fields, p.sink.field(a))
	}
	r.Attrs(func(a slog.Attr) bool {
		a.Key = p.prefix + a.Key
		e.Fields = append(e.Fields, p.sink.field(a))
		return true
	})

	b, err := p.sink.formatter.Format(e)
	if err != nil {
		return err
	}
	var errs []error
	for _, out := range p.sink.outputs {
		if err := out.Write(e, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *pipeline) WithAttrs(as []slog.Attr) slog.Handler {
	if len(as) == 0 {
		return p
	}
	np := *p
	np.attrs = make([]slog.Attr, 0, len(p.attrs)+len(as))
	np.attrs = append(np.attrs, p.attrs...)
	for _, a := range as {
		a.Key = p.prefix + a.Key
		np.attrs = append(np.attrs, a)
	}
	return &np
}

// WithGroup flattens groups into dotted key prefixes.
func (p *pipeline) WithGroup(name string) slog.Handler {
	if name == "" {
		return p
	}
	np := *p
	np.prefix = p.prefix + name + "."
	return &np
}

func (s *sink) field(a slog.Attr) Field {
	if _, ok := s.redact[a.Key]; ok {
		return Field{Key: a.Key, Value: "[REDACTED]"}
	}
	return Field{Key: a.Key, Value: a.Value.Resolve().Any()}
}

type sampler struct {
	initial    uint64
	thereafter uint64

	mu     sync.Mutex
	counts map[string]uint64
}

func newSampler(initial, thereafter int) *sampler {
	return &sampler{
		initial:    uint64(max(initial, 0)),
		thereafter: uint64(max(thereafter, 1)),
		counts:     make(map[string]uint64),
	}
}

func (s *sampler) allow(level slog.Level, msg string) bool {
	key := strconv.Itoa(int(level)) + ":" + msg
	s.mu.Lock()
	n := s.counts[key]
	s.counts[key] = n + 1
	s.mu.Unlock()
	if n < s.initial {
		return true
	}
	return (n-s.initial)%s.thereafter == 0
}
