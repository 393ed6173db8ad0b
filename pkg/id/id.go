package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"sync"
	"time"
)

// ID is a 16-byte sortable identifier.
type ID [16]byte

// ErrInvalid is returned by Parse and FromBytes for malformed input.
var ErrInvalid = errors.New("id: invalid")

// Bytes returns a copy of the raw bytes.
func (i ID) Bytes() []byte { return append([]byte(nil), i[:]...) }

func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the millisecond timestamp embedded in the ID.
func (i ID) Time() time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(i[0:8]))).UTC()
}

// Compare orders IDs bytewise.
func (i ID) Compare(other ID) int { return bytes.Compare(i[:], other[:]) }

// Parse decodes the hex form produced by String.
func Parse(s string) (ID, error) {
	var out ID
	if len(s) != 32 {
		return out, ErrInvalid
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, ErrInvalid
	}
	return out, nil
}

// FromBytes copies a 16-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	var out ID
	if len(b) != len(out) {
		return out, ErrInvalid
	}
	copy(out[:], b)
	return out, nil
}

// Generator mints IDs that never go backwards within one process, even if
// the wall clock does.
type Generator struct {
	mu     sync.Mutex
	now    func() int64
	lastMs int64
	seq    uint64
}

// NewGenerator returns a Generator reading the wall clock.
func NewGenerator() *Generator {
	return &Generator{now: func() int64 { return time.Now().UnixMilli() }}
}

// NewGeneratorWithClock returns a Generator reading ms from now.
func NewGeneratorWithClock(now func() int64) *Generator {
	return &Generator{now: now}
}

// Next returns the next ID. When the sequence is exhausted within a
// millisecond it waits for the clock to move.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	switch {
	case ms > g.lastMs:
		g.seq = 0
	case g.seq < math.MaxUint64:
		g.seq++
	default:
		for ms <= g.lastMs {
			time.Sleep(time.Millisecond / 8)
			ms = g.now()
		}
		g.seq = 0
	}
	g.lastMs = ms

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(ms))
	binary.BigEndian.PutUint64(out[8:16], g.seq)
	return out
}
