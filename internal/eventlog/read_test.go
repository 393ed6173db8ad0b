package eventlog

import (
	"context"
	"testing"

	"github.com/rzbill/docflow/internal/event"
)

func seedRange(t *testing.T, n int) (*Store, string, []Position) {
	t.Helper()
	s := newTestStore(t, 1)
	pos := make([]Position, n)
	for i := 0; i < n; i++ {
		p, _, err := s.Append(context.Background(), indexed("S1", "D1"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		pos[i] = p
	}
	return s, pos[0].Range, pos
}

func TestFetchFromBeginning(t *testing.T) {
	s, r, pos := seedRange(t, 5)
	items, err := s.Fetch(context.Background(), r, nil, 3)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 3 || items[0].Seq != pos[0].Seq || items[2].Seq != pos[2].Seq {
		t.Fatalf("unexpected items: %+v", items)
	}
	ev, err := event.Decode(items[0].Payload)
	if err != nil || ev.ID != items[0].EventID {
		t.Fatalf("payload does not decode to its event: %v", err)
	}
}

func TestFetchAfterTokenIsExclusive(t *testing.T) {
	s, r, pos := seedRange(t, 4)
	items, err := s.Fetch(context.Background(), r, pos[1].Token(), 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 || items[0].Seq != pos[2].Seq {
		t.Fatalf("expected items after seq %d, got %+v", pos[1].Seq, items)
	}
	tail, err := s.Fetch(context.Background(), r, items[1].Token(), 10)
	if err != nil || len(tail) != 0 {
		t.Fatalf("expected empty tail, got %d, %v", len(tail), err)
	}
}

func TestFetchRejectsUnknownRangeAndBadToken(t *testing.T) {
	s, r, _ := seedRange(t, 1)
	if _, err := s.Fetch(context.Background(), "r-009", nil, 1); err == nil {
		t.Fatalf("expected unknown range error")
	}
	if _, err := s.Fetch(context.Background(), r, []byte{1, 2}, 1); err == nil {
		t.Fatalf("expected bad token error")
	}
}
