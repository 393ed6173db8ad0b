package projection

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/docflow/internal/event"
	"github.com/rzbill/docflow/internal/eventlog"
	"github.com/rzbill/docflow/internal/feed"
	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
	"github.com/rzbill/docflow/pkg/log"
)

type env struct {
	store *PebbleStore
	log   *eventlog.Store
	h     *Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	l, err := eventlog.Open(db, eventlog.NewRanges(1))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	st := NewPebbleStore(db)
	return &env{store: st, log: l, h: NewHandler(st, l, HandlerConfig{}, nil)}
}

func (e *env) completions(t *testing.T) []event.Envelope {
	t.Helper()
	items, err := e.log.Fetch(context.Background(), "r-000", nil, 1000)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	var out []event.Envelope
	for _, it := range items {
		ev, err := event.Decode(it.Payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type == event.SubmissionPreparationCompleted {
			out = append(out, ev)
		}
	}
	return out
}

func TestHandlerScenarioEmitsExactlyOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	evs := []event.Envelope{
		created("S1", "D1", "D2"),
		classified("S1", "D1"),
		indexed("S1", "D2"),
		extracted("S1", "D1"),
		indexed("S1", "D1"),
		classified("S1", "D2"),
		extracted("S1", "D2"),
	}
	for i, ev := range evs {
		if err := e.h.Handle(ctx, ev); err != nil {
			t.Fatalf("handle %d: %v", i+1, err)
		}
		if n := len(e.completions(t)); i < 6 && n != 0 {
			t.Fatalf("terminal event after event %d", i+1)
		}
	}
	// Redelivery of the whole stream must not emit again.
	for _, ev := range evs {
		if err := e.h.Handle(ctx, ev); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	done := e.completions(t)
	if len(done) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(done))
	}
	p := done[0].Payload.(event.SubmissionPreparationCompletedData)
	if p.SubmissionID != "S1" || p.DocumentCount != 2 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	sub, _, _ := e.store.Get(ctx, "S1")
	if sub.EmittedAt == nil {
		t.Fatalf("emission not recorded")
	}
}

func TestConcurrentFinalWritersEmitOnce(t *testing.T) {
	for round := 0; round < 10; round++ {
		e := newEnv(t)
		ctx := context.Background()
		docs := []string{"D1", "D2", "D3", "D4", "D5", "D6"}
		if err := e.h.Handle(ctx, created("S1", docs...)); err != nil {
			t.Fatalf("created: %v", err)
		}
		var finals []event.Envelope
		for _, d := range docs {
			for _, ev := range []event.Envelope{classified("S1", d), indexed("S1", d)} {
				if err := e.h.Handle(ctx, ev); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}
			finals = append(finals, extracted("S1", d))
		}

		var wg sync.WaitGroup
		for _, ev := range finals {
			wg.Add(1)
			go func(ev event.Envelope) {
				defer wg.Done()
				for {
					err := e.h.Handle(ctx, ev)
					if err == nil {
						return
					}
					if !feed.IsTransient(err) {
						t.Errorf("handle: %v", err)
						return
					}
				}
			}(ev)
		}
		wg.Wait()

		if n := len(e.completions(t)); n != 1 {
			t.Fatalf("round %d: expected one completion, got %d", round, n)
		}
	}
}

type flakyAppender struct {
	Appender
	fail bool
}

func (f *flakyAppender) Append(ctx context.Context, ev event.Envelope) (eventlog.Position, bool, error) {
	if f.fail {
		return eventlog.Position{}, false, errors.New("log unavailable")
	}
	return f.Appender.Append(ctx, ev)
}

func TestEmitIsRetriedAfterAppendFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	flaky := &flakyAppender{Appender: e.log, fail: true}
	h := NewHandler(e.store, flaky, HandlerConfig{}, nil)

	evs := []event.Envelope{created("S1", "D1"), classified("S1", "D1"), indexed("S1", "D1")}
	for _, ev := range evs {
		if err := h.Handle(ctx, ev); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	last := extracted("S1", "D1")
	if err := h.Handle(ctx, last); !feed.IsTransient(err) {
		t.Fatalf("expected transient append failure, got %v", err)
	}
	sub, _, _ := e.store.Get(ctx, "S1")
	if sub.CompletedAt == nil || sub.EmittedAt != nil {
		t.Fatalf("expected completed but unemitted record: %+v", sub)
	}

	flaky.fail = false
	if err := h.Handle(ctx, last); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if n := len(e.completions(t)); n != 1 {
		t.Fatalf("expected one completion after recovery, got %d", n)
	}
}

type conflictingStore struct{ Store }

func (conflictingStore) Put(context.Context, Submission, uint64) error { return ErrVersionMismatch }

func TestRetryBudgetExhaustionIsTransient(t *testing.T) {
	e := newEnv(t)
	h := NewHandler(conflictingStore{e.store}, e.log, HandlerConfig{MaxAttempts: 3}, nil)
	err := h.Handle(context.Background(), created("S1", "D1"))
	if !errors.Is(err, ErrConflict) || !feed.IsTransient(err) {
		t.Fatalf("expected transient ErrConflict, got %v", err)
	}
}

// readFailingStore fails every Get once failGets is set.
type readFailingStore struct {
	Store
	failGets bool
	gets     int
}

func (s *readFailingStore) Get(ctx context.Context, id string) (Submission, bool, error) {
	s.gets++
	if s.failGets && s.gets > 1 {
		return Submission{}, false, errors.New("store unavailable")
	}
	return s.Store.Get(ctx, id)
}

func TestEmitLogsUnreadableRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var buf bytes.Buffer
	logger := log.NewLogger(log.WithFormatter(&log.TextFormatter{}), log.WithOutput(&log.WriterOutput{W: &buf}))
	st := &readFailingStore{Store: e.store}
	h := NewHandler(st, e.log, HandlerConfig{}, logger)

	for _, ev := range []event.Envelope{created("S1", "D1"), classified("S1", "D1"), indexed("S1", "D1")} {
		if err := h.Handle(ctx, ev); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	// The first Get of the final event succeeds; the one after the append fails.
	st.gets, st.failGets = 0, true
	last := extracted("S1", "D1")
	if err := h.Handle(ctx, last); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(buf.String(), "mark emitted failed") || !strings.Contains(buf.String(), "store unavailable") {
		t.Fatalf("expected a warning, got %q", buf.String())
	}
	if n := len(e.completions(t)); n != 1 {
		t.Fatalf("expected one completion, got %d", n)
	}
	sub, _, _ := e.store.Get(ctx, "S1")
	if sub.EmittedAt != nil {
		t.Fatalf("emittedAt should still be unset")
	}

	st.failGets = false
	if err := h.Handle(ctx, last); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	sub, _, _ = e.store.Get(ctx, "S1")
	if sub.EmittedAt == nil || len(e.completions(t)) != 1 {
		t.Fatalf("redelivery should record the emit without a second event: %+v", sub)
	}
}

func TestStorePutRejectsStaleVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := Submission{SubmissionID: "S9", Version: 1, UpdatedAt: time.Now()}
	if err := e.store.Put(ctx, s, 0); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := e.store.Put(ctx, s, 0); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}
