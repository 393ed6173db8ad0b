package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/docflow/internal/backoff"
	"github.com/rzbill/docflow/internal/cursor"
	"github.com/rzbill/docflow/internal/deadletter"
	"github.com/rzbill/docflow/internal/event"
	"github.com/rzbill/docflow/internal/eventlog"
	"github.com/rzbill/docflow/pkg/log"
)

// ErrFenced is returned by Run when a newer owner took over the range cursor.
var ErrFenced = errors.New("feed: range owned by a newer generation")

// Source is the consumption contract of the event log.
type Source interface {
	// Fetch returns up to limit items of rangeID strictly after the token.
	Fetch(ctx context.Context, rangeID string, after []byte, limit int) ([]eventlog.Item, error)
	// WaitForAppend blocks until rangeID may have new items, timeout or ctx done.
	WaitForAppend(ctx context.Context, rangeID string, timeout time.Duration) bool
}

// Config tunes a Consumer. Zero values take defaults.
type Config struct {
	BatchSize      int
	PollWait       time.Duration
	CommitInterval time.Duration
	// MaxAttempts bounds handler invocations for one event before it is
	// dead-lettered. Transient errors are not bounded.
	MaxAttempts int
	Backoff     backoff.Policy
	// ShutdownGrace is how long an in-flight handler may keep running after
	// cancellation.
	ShutdownGrace time.Duration
}

func (c *Config) withDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 128
	}
	if c.PollWait <= 0 {
		c.PollWait = time.Second
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff.Type == "" {
		c.Backoff = backoff.Default
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}

// Consumer runs per-range consumption loops. One Consumer may serve many
// ranges concurrently; each Run call owns its own position.
type Consumer struct {
	src     Source
	cursors cursor.Store
	dlq     deadletter.Store
	cfg     Config
	logger  log.Logger
	now     func() time.Time
}

// NewConsumer builds a Consumer.
func NewConsumer(src Source, cursors cursor.Store, dlq deadletter.Store, cfg Config, logger log.Logger) *Consumer {
	cfg.withDefaults()
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Consumer{
		src:     src,
		cursors: cursors,
		dlq:     dlq,
		cfg:     cfg,
		logger:  logger.WithComponent("feed"),
		now:     time.Now,
	}
}

// rangeRun is the state of one Run call.
type rangeRun struct {
	*Consumer
	rangeID    string
	generation uint64
	logger     log.Logger

	token      []byte
	committed  []byte
	lastCommit time.Time
}

// Run consumes rangeID until ctx is cancelled (returning nil), the cursor is
// taken over by a newer generation (ErrFenced) or an unrecoverable error
// occurs.
func (c *Consumer) Run(ctx context.Context, rangeID string, generation uint64, h Handler) error {
	r := &rangeRun{
		Consumer:   c,
		rangeID:    rangeID,
		generation: generation,
		logger:     c.logger.With(log.Str("range", rangeID), log.Uint64("generation", generation)),
	}
	if err := r.resume(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	r.logger.Info("consumer started", log.Uint64("from_seq", seqOf(r.token)))

	err := r.loop(ctx, h)
	if errors.Is(err, ErrFenced) {
		r.logger.Info("consumer fenced")
		return err
	}
	if ferr := r.finalCommit(ctx); ferr != nil && err == nil && !errors.Is(ferr, ErrFenced) {
		r.logger.Warn("final cursor commit failed", log.Err(ferr))
	}
	r.logger.Info("consumer stopped", log.Uint64("at_seq", seqOf(r.committed)))
	return err
}

func (r *rangeRun) resume(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		cur, ok, err := r.cursors.Get(ctx, r.rangeID)
		if err == nil {
			if ok {
				r.token = cur.Token
			}
			r.committed = r.token
			r.lastCommit = r.now()
			return nil
		}
		r.logger.Warn("read cursor failed", log.Err(err), log.Int("attempt", attempt))
		if err := backoff.Sleep(ctx, r.cfg.Backoff.Delay(attempt)); err != nil {
			return err
		}
	}
}

func (r *rangeRun) loop(ctx context.Context, h Handler) error {
	fetchAttempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		items, err := r.src.Fetch(ctx, r.rangeID, r.token, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fetchAttempt++
			r.logger.Warn("fetch failed", log.Err(err), log.Int("attempt", fetchAttempt))
			if backoff.Sleep(ctx, r.cfg.Backoff.Delay(fetchAttempt)) != nil {
				return nil
			}
			continue
		}
		fetchAttempt = 0

		for _, it := range items {
			if ctx.Err() != nil {
				break
			}
			if !r.deliver(ctx, it, h) {
				break
			}
			r.token = it.Token()
		}

		if len(items) > 0 || r.now().Sub(r.lastCommit) >= r.cfg.CommitInterval {
			if err := r.commit(ctx); errors.Is(err, ErrFenced) {
				return err
			} else if err != nil && ctx.Err() == nil {
				r.logger.Warn("cursor commit failed", log.Err(err))
			}
		}
		if len(items) == 0 {
			r.src.WaitForAppend(ctx, r.rangeID, r.cfg.PollWait)
		}
	}
}

// deliver runs h for one item until it succeeds, is dead-lettered, or the
// consumer stops. It reports whether the item may be considered handled.
func (r *rangeRun) deliver(ctx context.Context, it eventlog.Item, h Handler) bool {
	if it.Err != nil {
		return r.deadLetter(ctx, it, "", "", it.Err, 0)
	}
	ev, err := event.Decode(it.Payload)
	if err != nil {
		return r.deadLetter(ctx, it, it.EventID, "", err, 0)
	}

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() { time.AfterFunc(r.cfg.ShutdownGrace, cancel) })
	defer stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := h.Handle(hctx, ev)
		if err == nil {
			return true
		}
		lastErr = err
		if hctx.Err() != nil {
			r.logger.Warn("handler interrupted by shutdown", log.Str("event_id", ev.ID), log.Err(err))
			return false
		}
		transient := IsTransient(err)
		if !transient && attempt >= r.cfg.MaxAttempts {
			break
		}
		r.logger.Warn("handler failed",
			log.Str("event_id", ev.ID),
			log.Str("event_type", string(ev.Type)),
			log.Int("attempt", attempt),
			log.Bool("transient", transient),
			log.Err(err))
		if backoff.Sleep(ctx, r.cfg.Backoff.Delay(attempt)) != nil {
			return false
		}
	}
	return r.deadLetter(ctx, it, ev.ID, string(ev.Type), lastErr, r.cfg.MaxAttempts)
}

func (r *rangeRun) deadLetter(ctx context.Context, it eventlog.Item, eventID, eventType string, cause error, attempts int) bool {
	rec := deadletter.Record{
		Range:     r.rangeID,
		Seq:       it.Seq,
		EventID:   eventID,
		EventType: eventType,
		Event:     it.Payload,
		Error:     cause.Error(),
		Attempts:  attempts,
		FailedAt:  r.now().UTC(),
	}
	for attempt := 1; ; attempt++ {
		stored, err := r.dlq.Put(ctx, rec)
		if err == nil {
			r.logger.Error("event dead-lettered",
				log.Uint64("seq", it.Seq),
				log.Str("event_id", eventID),
				log.Str("dead_letter_id", stored.ID),
				log.Err(cause))
			return true
		}
		r.logger.Warn("dead-letter write failed", log.Err(err), log.Int("attempt", attempt))
		if backoff.Sleep(ctx, r.cfg.Backoff.Delay(attempt)) != nil {
			return false
		}
	}
}

func (r *rangeRun) commit(ctx context.Context) error {
	if bytes.Equal(r.token, r.committed) {
		r.lastCommit = r.now()
		return nil
	}
	err := r.cursors.Put(ctx, r.rangeID, cursor.Cursor{
		Token:      r.token,
		Generation: r.generation,
		UpdatedAt:  r.now().UTC(),
	})
	if errors.Is(err, cursor.ErrStale) {
		return fmt.Errorf("%w: %v", ErrFenced, err)
	}
	if err != nil {
		return err
	}
	r.committed = r.token
	r.lastCommit = r.now()
	return nil
}

func (r *rangeRun) finalCommit(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ShutdownGrace)
	defer cancel()
	return r.commit(cctx)
}

func seqOf(tok []byte) uint64 {
	seq, _ := eventlog.SeqFromToken(tok)
	return seq
}
