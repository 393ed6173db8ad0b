package eventlog

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Ranges divides the 64-bit hash space of partition keys into N contiguous
// ranges of equal width.
type Ranges struct {
	n     uint32
	width uint64
}

// NewRanges returns n ranges. n must be at least 1.
func NewRanges(n int) Ranges {
	if n < 1 {
		n = 1
	}
	return Ranges{n: uint32(n), width: math.MaxUint64/uint64(n) + 1}
}

// Count returns the number of ranges.
func (r Ranges) Count() int { return int(r.n) }

// IndexFor returns the range index owning key.
func (r Ranges) IndexFor(key string) uint32 {
	if r.n <= 1 {
		return 0
	}
	idx := uint32(xxhash.Sum64String(key) / r.width)
	if idx >= r.n {
		idx = r.n - 1
	}
	return idx
}

// RangeFor returns the id of the range owning key.
func (r Ranges) RangeFor(key string) string { return RangeID(r.IndexFor(key)) }

// Bounds returns the inclusive hash bounds of range idx.
func (r Ranges) Bounds(idx uint32) (lo, hi uint64) {
	lo = uint64(idx) * r.width
	if idx == r.n-1 {
		return lo, math.MaxUint64
	}
	return lo, lo + r.width - 1
}

// All lists every range id in index order.
func (r Ranges) All() []string {
	out := make([]string, r.n)
	for i := uint32(0); i < r.n; i++ {
		out[i] = RangeID(i)
	}
	return out
}

// Index parses a range id and checks it belongs to r.
func (r Ranges) Index(id string) (uint32, error) {
	idx, err := ParseRangeID(id)
	if err != nil {
		return 0, err
	}
	if idx >= r.n {
		return 0, fmt.Errorf("eventlog: range %s out of bounds (%d ranges)", id, r.n)
	}
	return idx, nil
}

// RangeID formats a range index as "r-NNN".
func RangeID(idx uint32) string { return fmt.Sprintf("r-%03d", idx) }

// ParseRangeID parses an id produced by RangeID.
func ParseRangeID(id string) (uint32, error) {
	s, ok := strings.CutPrefix(id, "r-")
	if !ok {
		return 0, fmt.Errorf("eventlog: bad range id %q", id)
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("eventlog: bad range id %q", id)
	}
	return uint32(n), nil
}
