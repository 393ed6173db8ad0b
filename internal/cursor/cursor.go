// Package cursor persists the continuation cursor of each partition range.
//
// A cursor carries the assignment generation of the consumer that wrote it.
// Writes from an older generation lose: once a range has been handed to a
// newer owner, the previous owner can no longer move its cursor.
package cursor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
)

// ErrStale is returned by Put when a newer generation owns the cursor.
var ErrStale = errors.New("cursor: stale generation")

// Cursor is the resumption point of one partition range.
type Cursor struct {
	Token      []byte    `json:"token"`
	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store reads and writes cursors.
type Store interface {
	Get(ctx context.Context, rangeID string) (Cursor, bool, error)
	// Put stores c unless a newer generation already wrote the cursor
	// (ErrStale). Within one generation a token lower than the stored one
	// is ignored so the cursor never moves backwards.
	Put(ctx context.Context, rangeID string, c Cursor) error
}

// Resolve applies the Put rules to the stored cursor and returns the cursor
// to write, or nil when the write is a no-op.
func Resolve(stored *Cursor, next Cursor) (*Cursor, error) {
	if stored == nil {
		return &next, nil
	}
	if next.Generation < stored.Generation {
		return nil, fmt.Errorf("%w: have %d, got %d", ErrStale, stored.Generation, next.Generation)
	}
	if next.Generation == stored.Generation && bytes.Compare(next.Token, stored.Token) < 0 {
		return nil, nil
	}
	return &next, nil
}

// PebbleStore keeps cursors under cursor/{rangeID}.
type PebbleStore struct {
	db *pebblestore.DB
}

func NewPebbleStore(db *pebblestore.DB) *PebbleStore { return &PebbleStore{db: db} }

func key(rangeID string) []byte { return []byte("cursor/" + rangeID) }

func (s *PebbleStore) Get(_ context.Context, rangeID string) (Cursor, bool, error) {
	v, err := s.db.Get(key(rangeID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, fmt.Errorf("get cursor %s: %w", rangeID, err)
	}
	var c Cursor
	if err := json.Unmarshal(v, &c); err != nil {
		return Cursor{}, false, fmt.Errorf("decode cursor %s: %w", rangeID, err)
	}
	return c, true, nil
}

func (s *PebbleStore) Put(ctx context.Context, rangeID string, c Cursor) error {
	return s.db.Update(ctx, key(rangeID), func(cur []byte, found bool, _ *pebble.Batch) ([]byte, error) {
		var stored *Cursor
		if found {
			stored = &Cursor{}
			if err := json.Unmarshal(cur, stored); err != nil {
				return nil, fmt.Errorf("decode cursor %s: %w", rangeID, err)
			}
		}
		next, err := Resolve(stored, c)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}
		return json.Marshal(next)
	})
}
