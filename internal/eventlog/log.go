package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/docflow/internal/event"
	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
)

// Position locates an appended event.
type Position struct {
	Range string
	Seq   uint64
}

// Token returns the resumption token that ends at this position.
func (p Position) Token() []byte { return TokenFromSeq(p.Seq) }

// Store is the Pebble-backed event log over all ranges of a deployment.
type Store struct {
	db     *pebblestore.DB
	ranges Ranges
	parts  []*partition
}

// partition is the append-only log of a single range.
type partition struct {
	db  *pebblestore.DB
	idx uint32
	id  string

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
}

// Open initializes every range log and restores its last sequence.
func Open(db *pebblestore.DB, ranges Ranges) (*Store, error) {
	s := &Store{db: db, ranges: ranges, parts: make([]*partition, ranges.Count())}
	for i := range s.parts {
		p := &partition{db: db, idx: uint32(i), id: RangeID(uint32(i)), notifyCh: make(chan struct{})}
		meta, err := db.Get(KeyLogMeta(p.idx))
		switch {
		case err == nil && len(meta) >= 8:
			p.lastSeq = binary.BigEndian.Uint64(meta[:8])
		case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
			return nil, fmt.Errorf("load %s meta: %w", p.id, err)
		}
		s.parts[i] = p
	}
	return s, nil
}

// Ranges returns the range layout of the log.
func (s *Store) Ranges() Ranges { return s.ranges }

// Append validates ev and appends it to the range owning its submission id.
// Appending an id that already exists is a no-op that returns the original
// position with appended=false.
func (s *Store) Append(ctx context.Context, ev event.Envelope) (Position, bool, error) {
	payload, err := event.Encode(ev)
	if err != nil {
		return Position{}, false, err
	}
	p := s.parts[s.ranges.IndexFor(ev.SubmissionID)]
	seq, appended, err := p.append(ctx, ev.ID, payload)
	if err != nil {
		return Position{}, false, err
	}
	return Position{Range: p.id, Seq: seq}, appended, nil
}

// Lookup reports where eventID was appended.
func (s *Store) Lookup(_ context.Context, eventID string) (Position, bool, error) {
	v, err := s.db.Get(KeyIdem(eventID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, err
	}
	if len(v) != 12 {
		return Position{}, false, ErrCorrupt
	}
	return Position{Range: RangeID(binary.BigEndian.Uint32(v[:4])), Seq: binary.BigEndian.Uint64(v[4:])}, true, nil
}

// Head returns the last assigned sequence of a range.
func (s *Store) Head(rangeID string) (uint64, error) {
	p, err := s.part(rangeID)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq, nil
}

func (s *Store) part(rangeID string) (*partition, error) {
	idx, err := s.ranges.Index(rangeID)
	if err != nil {
		return nil, err
	}
	return s.parts[idx], nil
}

func (p *partition) append(ctx context.Context, eventID string, payload []byte) (uint64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idemKey := KeyIdem(eventID)
	if v, err := p.db.Get(idemKey); err == nil && len(v) == 12 {
		return binary.BigEndian.Uint64(v[4:]), false, nil
	} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return 0, false, fmt.Errorf("check idempotency: %w", err)
	}

	seq := p.lastSeq + 1
	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyLogEntry(p.idx, seq), EncodeRecord([]byte(eventID), payload), nil); err != nil {
		return 0, false, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(KeyLogMeta(p.idx), meta[:], nil); err != nil {
		return 0, false, err
	}
	var pos [12]byte
	binary.BigEndian.PutUint32(pos[:4], p.idx)
	binary.BigEndian.PutUint64(pos[4:], seq)
	if err := b.Set(idemKey, pos[:], nil); err != nil {
		return 0, false, err
	}
	if err := p.db.CommitBatch(ctx, b); err != nil {
		return 0, false, fmt.Errorf("append %s: %w", p.id, err)
	}
	p.lastSeq = seq

	close(p.notifyCh)
	p.notifyCh = make(chan struct{})
	return seq, true, nil
}
