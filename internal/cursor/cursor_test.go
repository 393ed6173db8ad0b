package cursor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/docflow/internal/eventlog"
	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
)

func newTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPebbleStore(db)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, ok, err := s.Get(context.Background(), "r-000"); ok || err != nil {
		t.Fatalf("expected missing cursor, got ok=%v err=%v", ok, err)
	}
}

func TestPutNoRegressionWithinGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.Put(ctx, "r-000", Cursor{Token: eventlog.TokenFromSeq(5), Generation: 1, UpdatedAt: now}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "r-000", Cursor{Token: eventlog.TokenFromSeq(3), Generation: 1, UpdatedAt: now}); err != nil {
		t.Fatalf("put lower: %v", err)
	}
	c, ok, err := s.Get(ctx, "r-000")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if seq, _ := eventlog.SeqFromToken(c.Token); seq != 5 {
		t.Fatalf("cursor regressed to %d", seq)
	}
}

func TestPutStaleGenerationLoses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "r-001", Cursor{Token: eventlog.TokenFromSeq(2), Generation: 4}); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := s.Put(ctx, "r-001", Cursor{Token: eventlog.TokenFromSeq(9), Generation: 3})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	// A newer owner may rewind to where it actually resumed.
	if err := s.Put(ctx, "r-001", Cursor{Token: eventlog.TokenFromSeq(1), Generation: 5}); err != nil {
		t.Fatalf("put newer: %v", err)
	}
	c, _, _ := s.Get(ctx, "r-001")
	if c.Generation != 5 {
		t.Fatalf("generation = %d", c.Generation)
	}
}
