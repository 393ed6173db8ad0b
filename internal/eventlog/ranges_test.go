package eventlog

import (
	"fmt"
	"math"
	"testing"
)

func TestRangesCoverHashSpace(t *testing.T) {
	for _, n := range []int{1, 3, 16, 7} {
		r := NewRanges(n)
		var prevHi uint64
		for i := uint32(0); i < uint32(n); i++ {
			lo, hi := r.Bounds(i)
			if i == 0 && lo != 0 {
				t.Fatalf("n=%d: first range starts at %d", n, lo)
			}
			if i > 0 && lo != prevHi+1 {
				t.Fatalf("n=%d: gap before range %d", n, i)
			}
			prevHi = hi
		}
		if prevHi != math.MaxUint64 {
			t.Fatalf("n=%d: last range ends at %d", n, prevHi)
		}
	}
}

func TestRangeForIsStableAndSpread(t *testing.T) {
	r := NewRanges(8)
	seen := map[string]int{}
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("S%d", i)
		id := r.RangeFor(key)
		if id != r.RangeFor(key) {
			t.Fatalf("range for %s not stable", key)
		}
		seen[id]++
	}
	if len(seen) != 8 {
		t.Fatalf("expected keys on all 8 ranges, got %v", seen)
	}
}

func TestParseRangeID(t *testing.T) {
	r := NewRanges(4)
	if idx, err := r.Index("r-003"); err != nil || idx != 3 {
		t.Fatalf("Index = %d, %v", idx, err)
	}
	if _, err := r.Index("r-004"); err == nil {
		t.Fatalf("expected out of bounds")
	}
	if _, err := ParseRangeID("p-1"); err == nil {
		t.Fatalf("expected bad id")
	}
}
