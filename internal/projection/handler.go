package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rzbill/docflow/internal/backoff"
	"github.com/rzbill/docflow/internal/event"
	"github.com/rzbill/docflow/internal/eventlog"
	"github.com/rzbill/docflow/internal/feed"
	"github.com/rzbill/docflow/pkg/log"
)

// Appender appends events idempotently by event id.
type Appender interface {
	Append(ctx context.Context, ev event.Envelope) (eventlog.Position, bool, error)
}

// HandlerConfig tunes the read-modify-write loop.
type HandlerConfig struct {
	MaxAttempts int
	Backoff     backoff.Policy
}

// Handler applies step events to the store and emits the terminal event.
type Handler struct {
	store  Store
	out    Appender
	cfg    HandlerConfig
	logger log.Logger
	now    func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(store Store, out Appender, cfg HandlerConfig, logger log.Logger) *Handler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff.Type == "" {
		cfg.Backoff = backoff.Policy{Type: backoff.ExpJitter, Base: 10 * time.Millisecond, Cap: 200 * time.Millisecond}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{store: store, out: out, cfg: cfg, logger: logger.WithComponent("projection"), now: time.Now}
}

// Register adds the handler to mux for every type it consumes.
func (h *Handler) Register(mux *feed.Mux) error {
	for _, t := range Handles {
		if err := mux.Register(t, "projection", h); err != nil {
			return err
		}
	}
	return nil
}

// Handle implements feed.Handler. Store failures and an exhausted retry
// budget are reported as transient.
func (h *Handler) Handle(ctx context.Context, ev event.Envelope) error {
	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		cur, _, err := h.store.Get(ctx, ev.SubmissionID)
		if err != nil {
			return feed.Transient(err)
		}
		next, changed := Apply(cur, ev, h.now())
		if !changed {
			if next.CompletedAt != nil && next.EmittedAt == nil {
				return h.emit(ctx, next)
			}
			return nil
		}
		next.Version = cur.Version + 1
		err = h.store.Put(ctx, next, cur.Version)
		if errors.Is(err, ErrVersionMismatch) {
			if serr := backoff.Sleep(ctx, h.cfg.Backoff.Delay(attempt)); serr != nil {
				return serr
			}
			continue
		}
		if err != nil {
			return feed.Transient(err)
		}

		h.warnStray(cur, next, ev)
		if next.CompletedAt == nil {
			return nil
		}
		if cur.CompletedAt == nil {
			h.logger.Info("submission complete",
				log.Str("submission_id", next.SubmissionID),
				log.Int("documents", len(next.Documents)))
		}
		if next.EmittedAt == nil {
			return h.emit(ctx, next)
		}
		return nil
	}
	h.logger.Warn("projection write retry budget exhausted",
		log.Str("submission_id", ev.SubmissionID),
		log.Str("event_id", ev.ID))
	return feed.Transient(ErrConflict)
}

// emit appends the terminal event for s and records that it was appended.
// The event id is derived from the submission id, so a repeated emit after a
// crash is a no-op in the log.
func (h *Handler) emit(ctx context.Context, s Submission) error {
	done := event.Completed(s.SubmissionID, *s.CompletedAt, len(s.Documents))
	if _, appended, err := h.out.Append(ctx, done); err != nil {
		return feed.Transient(fmt.Errorf("append completion: %w", err))
	} else if appended {
		h.logger.Info("completion emitted", log.Str("submission_id", s.SubmissionID), log.Str("event_id", done.ID))
	}

	for attempt := 1; attempt <= h.cfg.MaxAttempts; attempt++ {
		cur, ok, err := h.store.Get(ctx, s.SubmissionID)
		if err != nil {
			h.logger.Warn("mark emitted failed", log.Str("submission_id", s.SubmissionID), log.Err(err))
			return nil
		}
		if !ok || cur.EmittedAt != nil {
			return nil
		}
		next := cur.clone()
		at := h.now().UTC()
		next.EmittedAt = &at
		next.Version = cur.Version + 1
		err = h.store.Put(ctx, next, cur.Version)
		if !errors.Is(err, ErrVersionMismatch) {
			if err != nil {
				h.logger.Warn("mark emitted failed", log.Str("submission_id", s.SubmissionID), log.Err(err))
			}
			return nil
		}
	}
	return nil
}

func (h *Handler) warnStray(cur, next Submission, ev event.Envelope) {
	switch p := ev.Payload.(type) {
	case event.SubmissionCreatedData:
		if stray := next.Undeclared(p.Documents); len(stray) > 0 {
			sort.Strings(stray)
			h.logger.Warn("submission has steps for undeclared documents",
				log.Str("submission_id", next.SubmissionID),
				log.Any("documents", stray))
		}
	default:
		if _, known := cur.Documents[ev.DocumentRef]; cur.Created && !known {
			h.logger.Warn("step for undeclared document",
				log.Str("submission_id", next.SubmissionID),
				log.Str("document_ref", ev.DocumentRef),
				log.Str("event_type", string(ev.Type)))
		}
	}
}
