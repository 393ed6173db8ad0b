package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/docflow/internal/backoff"
	"github.com/rzbill/docflow/internal/cursor"
	"github.com/rzbill/docflow/internal/deadletter"
	"github.com/rzbill/docflow/internal/event"
	"github.com/rzbill/docflow/internal/eventlog"
	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
)

type harness struct {
	log     *eventlog.Store
	cursors *cursor.PebbleStore
	dlq     *deadletter.PebbleStore
	rangeID string
}

func newHarness(t *testing.T) *harness {
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
	return &harness{log: l, cursors: cursor.NewPebbleStore(db), dlq: deadletter.NewPebbleStore(db), rangeID: "r-000"}
}

func testConfig() Config {
	return Config{
		BatchSize:      4,
		PollWait:       10 * time.Millisecond,
		CommitInterval: 10 * time.Millisecond,
		MaxAttempts:    3,
		Backoff:        backoff.Policy{Type: backoff.Fixed, Base: time.Millisecond},
		ShutdownGrace:  time.Second,
	}
}

func (h *harness) consumer(src Source) *Consumer {
	if src == nil {
		src = h.log
	}
	return NewConsumer(src, h.cursors, h.dlq, testConfig(), nil)
}

func (h *harness) appendDocs(t *testing.T, docs ...string) []event.Envelope {
	t.Helper()
	out := make([]event.Envelope, 0, len(docs))
	for _, d := range docs {
		ev := event.New("S1", d, event.DocumentIndexedData{}, time.Now())
		if _, _, err := h.log.Append(context.Background(), ev); err != nil {
			t.Fatalf("append: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

type recorder struct {
	mu   sync.Mutex
	seen []string
	fail func(ev event.Envelope) error
}

func (r *recorder) Handle(_ context.Context, ev event.Envelope) error {
	if r.fail != nil {
		if err := r.fail(ev); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.seen = append(r.seen, ev.DocumentRef)
	r.mu.Unlock()
	return nil
}

func (r *recorder) docs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func start(c *Consumer, rangeID string, gen uint64, h Handler) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, rangeID, gen, h) }()
	return cancel, done
}

func TestRunStartsFromBeginningWithoutCursor(t *testing.T) {
	h := newHarness(t)
	h.appendDocs(t, "D1", "D2", "D3", "D4", "D5", "D6")

	rec := &recorder{}
	cancel, done := start(h.consumer(nil), h.rangeID, 1, rec)
	waitFor(t, "six events", func() bool { return len(rec.docs()) == 6 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"D1", "D2", "D3", "D4", "D5", "D6"}
	for i, d := range rec.docs() {
		if d != want[i] {
			t.Fatalf("out of order delivery: %v", rec.docs())
		}
	}
	c, ok, err := h.cursors.Get(context.Background(), h.rangeID)
	if err != nil || !ok {
		t.Fatalf("cursor missing: %v", err)
	}
	if seq, _ := eventlog.SeqFromToken(c.Token); seq != 6 {
		t.Fatalf("final cursor at %d, want 6", seq)
	}
}

func TestRunResumesFromCommittedCursor(t *testing.T) {
	h := newHarness(t)
	h.appendDocs(t, "D1", "D2")

	first := &recorder{}
	cancel, done := start(h.consumer(nil), h.rangeID, 1, first)
	waitFor(t, "first batch", func() bool { return len(first.docs()) == 2 })
	cancel()
	<-done

	h.appendDocs(t, "D3")
	second := &recorder{}
	cancel, done = start(h.consumer(nil), h.rangeID, 1, second)
	waitFor(t, "resumed event", func() bool { return len(second.docs()) == 1 })
	cancel()
	<-done
	if got := second.docs(); got[0] != "D3" {
		t.Fatalf("expected only D3 after resume, got %v", got)
	}
}

type failingCursors struct{ cursor.Store }

func (failingCursors) Put(context.Context, string, cursor.Cursor) error {
	return errors.New("store unavailable")
}

func TestCrashBeforeCommitReprocessesWithoutGap(t *testing.T) {
	h := newHarness(t)
	h.appendDocs(t, "D1", "D2", "D3")

	crashed := NewConsumer(h.log, failingCursors{h.cursors}, h.dlq, testConfig(), nil)
	first := &recorder{}
	cancel, done := start(crashed, h.rangeID, 1, first)
	waitFor(t, "handled before crash", func() bool { return len(first.docs()) == 3 })
	cancel()
	<-done

	second := &recorder{}
	cancel, done = start(h.consumer(nil), h.rangeID, 1, second)
	waitFor(t, "replay", func() bool { return len(second.docs()) == 3 })
	cancel()
	<-done
	if got := second.docs(); got[0] != "D1" || got[2] != "D3" {
		t.Fatalf("expected replay from the last committed position, got %v", got)
	}
}

func TestPoisonEventIsDeadLetteredAndRangeContinues(t *testing.T) {
	h := newHarness(t)
	evs := h.appendDocs(t, "D1", "BAD", "D3")

	calls := 0
	var mu sync.Mutex
	rec := &recorder{fail: func(ev event.Envelope) error {
		if ev.DocumentRef == "BAD" {
			mu.Lock()
			calls++
			mu.Unlock()
			return errors.New("cannot classify")
		}
		return nil
	}}
	cancel, done := start(h.consumer(nil), h.rangeID, 1, rec)
	waitFor(t, "events around the poison one", func() bool { return len(rec.docs()) == 2 })
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 attempts on the poison event, got %d", calls)
	}
	recs, err := h.dlq.List(context.Background(), deadletter.ListOptions{})
	if err != nil || len(recs) != 1 {
		t.Fatalf("dead letters = %d, %v", len(recs), err)
	}
	if recs[0].EventID != evs[1].ID || recs[0].Attempts != 3 || recs[0].Error == "" {
		t.Fatalf("unexpected dead letter: %+v", recs[0])
	}
}

func TestTransientErrorsAreNotDeadLettered(t *testing.T) {
	h := newHarness(t)
	h.appendDocs(t, "D1")

	failures := 0
	rec := &recorder{fail: func(event.Envelope) error {
		if failures < 6 {
			failures++
			return Transient(errors.New("version conflict"))
		}
		return nil
	}}
	cancel, done := start(h.consumer(nil), h.rangeID, 1, rec)
	waitFor(t, "eventual success", func() bool { return len(rec.docs()) == 1 })
	cancel()
	<-done

	recs, _ := h.dlq.List(context.Background(), deadletter.ListOptions{})
	if len(recs) != 0 {
		t.Fatalf("transient failure was dead-lettered: %+v", recs)
	}
}

type staticSource struct {
	items []eventlog.Item
}

func (s staticSource) Fetch(_ context.Context, _ string, after []byte, limit int) ([]eventlog.Item, error) {
	from, _ := eventlog.SeqFromToken(after)
	var out []eventlog.Item
	for _, it := range s.items {
		if it.Seq > from && len(out) < limit {
			out = append(out, it)
		}
	}
	return out, nil
}

func (staticSource) WaitForAppend(ctx context.Context, _ string, timeout time.Duration) bool {
	select {
	case <-time.After(timeout):
	case <-ctx.Done():
	}
	return false
}

func TestMalformedEventIsDeadLetteredWithoutCallingHandler(t *testing.T) {
	h := newHarness(t)
	good, _ := event.Encode(event.New("S1", "D2", event.DocumentIndexedData{}, time.Now()))
	src := staticSource{items: []eventlog.Item{
		{Range: h.rangeID, Seq: 1, EventID: "x", Payload: []byte(`{"eventType":"Bogus"}`)},
		{Range: h.rangeID, Seq: 2, Payload: []byte("garbage"), Err: eventlog.ErrCorrupt},
		{Range: h.rangeID, Seq: 3, EventID: "y", Payload: good},
	}}
	rec := &recorder{}
	cancel, done := start(h.consumer(src), h.rangeID, 1, rec)
	waitFor(t, "good event", func() bool { return len(rec.docs()) == 1 })
	cancel()
	<-done

	recs, _ := h.dlq.List(context.Background(), deadletter.ListOptions{})
	if len(recs) != 2 || recs[0].Seq != 1 || recs[1].Seq != 2 || recs[0].Attempts != 0 {
		t.Fatalf("unexpected dead letters: %+v", recs)
	}
}

func TestRunStopsWhenFenced(t *testing.T) {
	h := newHarness(t)
	h.appendDocs(t, "D1")
	if err := h.cursors.Put(context.Background(), h.rangeID, cursor.Cursor{Generation: 9}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	_, done := start(h.consumer(nil), h.rangeID, 3, &recorder{})
	select {
	case err := <-done:
		if !errors.Is(err, ErrFenced) {
			t.Fatalf("expected ErrFenced, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer kept running after losing its cursor")
	}
}

func TestInFlightHandlerFinishesBeforeFinalCommit(t *testing.T) {
	h := newHarness(t)
	h.appendDocs(t, "D1")

	started := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{fail: func(event.Envelope) error {
		close(started)
		<-release
		return nil
	}}
	cancel, done := start(h.consumer(nil), h.rangeID, 1, rec)
	<-started
	cancel()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	c, ok, _ := h.cursors.Get(context.Background(), h.rangeID)
	if seq, _ := eventlog.SeqFromToken(c.Token); !ok || seq != 1 {
		t.Fatalf("expected final commit at seq 1, got %d (found=%v)", seq, ok)
	}
}
