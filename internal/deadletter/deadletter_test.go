package deadletter

import (
	"context"
	"testing"

	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
)

func newTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPebbleStore(db)
}

func TestPutAndListInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, r := range []string{"r-000", "r-001", "r-000"} {
		if _, err := s.Put(ctx, Record{Range: r, Seq: uint64(i + 1), Error: "boom", Attempts: 5}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	all, err := s.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Seq != 1 || all[2].Seq != 3 {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[0].FailedAt.IsZero() || all[0].ID == "" {
		t.Fatalf("expected id and failedAt to be assigned: %+v", all[0])
	}

	r0, err := s.List(ctx, ListOptions{Range: "r-000"})
	if err != nil || len(r0) != 2 {
		t.Fatalf("range filter = %d, %v", len(r0), err)
	}

	page, err := s.List(ctx, ListOptions{After: all[0].ID, Limit: 1})
	if err != nil || len(page) != 1 || page[0].ID != all[1].ID {
		t.Fatalf("paging = %+v, %v", page, err)
	}
}
