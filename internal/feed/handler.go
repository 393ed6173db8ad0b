package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rzbill/docflow/internal/event"
)

// Handler processes one decoded event. Handlers must be idempotent.
type Handler interface {
	Handle(ctx context.Context, ev event.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev event.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, ev event.Envelope) error { return f(ctx, ev) }

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as a temporary condition the consumer retries without
// a bound instead of dead-lettering.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

type route struct {
	name   string
	h      Handler
	filter Filter
}

// RouteOption customizes a Mux registration.
type RouteOption func(*route) error

// WithFilter restricts a registration to events matching a CEL expression.
func WithFilter(expr string) RouteOption {
	return func(r *route) error {
		f, err := NewFilter(expr)
		if err != nil {
			return fmt.Errorf("route %s filter: %w", r.name, err)
		}
		r.filter = f
		return nil
	}
}

// Mux fans an event out to every handler registered for its type, in
// registration order. Events without registrations are acknowledged.
type Mux struct {
	mu     sync.RWMutex
	routes map[event.Type][]route
}

func NewMux() *Mux { return &Mux{routes: make(map[event.Type][]route)} }

// Register adds h for event type t under a name used in errors and logs.
func (m *Mux) Register(t event.Type, name string, h Handler, opts ...RouteOption) error {
	if !t.Valid() {
		return fmt.Errorf("register %s: unknown event type %q", name, t)
	}
	r := route{name: name, h: h}
	for _, opt := range opts {
		if err := opt(&r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.routes[t] = append(m.routes[t], r)
	m.mu.Unlock()
	return nil
}

// Types lists the event types with at least one registration.
func (m *Mux) Types() []event.Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]event.Type, 0, len(m.routes))
	for t := range m.routes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Handle implements Handler.
func (m *Mux) Handle(ctx context.Context, ev event.Envelope) error {
	m.mu.RLock()
	routes := m.routes[ev.Type]
	m.mu.RUnlock()
	for _, r := range routes {
		if !r.filter.Match(ev) {
			continue
		}
		if err := r.h.Handle(ctx, ev); err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}
	return nil
}
