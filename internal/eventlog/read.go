package eventlog

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Item is one entry read from a range.
type Item struct {
	Range   string
	Seq     uint64
	EventID string
	Payload []byte
	// Err is ErrCorrupt when the entry failed its checksum; Payload then
	// holds the raw stored bytes.
	Err error
}

// Token returns the resumption token that ends at this item.
func (i Item) Token() []byte { return TokenFromSeq(i.Seq) }

// TokenFromSeq encodes seq as an 8-byte big-endian token.
func TokenFromSeq(seq uint64) []byte {
	var t [8]byte
	binary.BigEndian.PutUint64(t[:], seq)
	return t[:]
}

// SeqFromToken decodes a token. An empty token is seq 0.
func SeqFromToken(tok []byte) (uint64, error) {
	if len(tok) == 0 {
		return 0, nil
	}
	if len(tok) != 8 {
		return 0, fmt.Errorf("eventlog: bad token length %d", len(tok))
	}
	return binary.BigEndian.Uint64(tok), nil
}

// Fetch returns up to limit items of rangeID strictly after the token.
func (s *Store) Fetch(ctx context.Context, rangeID string, after []byte, limit int) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.part(rangeID)
	if err != nil {
		return nil, err
	}
	afterSeq, err := SeqFromToken(after)
	if err != nil {
		return nil, err
	}
	return p.read(afterSeq, limit)
}

func (p *partition) read(afterSeq uint64, limit int) ([]Item, error) {
	prefix := KeyLogEntryPrefix(p.idx)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: KeyLogEntry(p.idx, afterSeq+1),
		UpperBound: append(KeyLogEntry(p.idx, ^uint64(0)), 0x00),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if limit <= 0 {
		limit = 128
	}
	items := make([]Item, 0, limit)
	for ok := iter.First(); ok && len(items) < limit; ok = iter.Next() {
		seq := binary.BigEndian.Uint64(iter.Key()[len(prefix):])
		it := Item{Range: p.id, Seq: seq}
		h, payload, err := DecodeRecord(iter.Value())
		if err != nil {
			it.Payload = append([]byte(nil), iter.Value()...)
			it.Err = err
		} else {
			it.EventID = string(h)
			it.Payload = payload
		}
		items = append(items, it)
	}
	return items, iter.Error()
}
