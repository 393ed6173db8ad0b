// Package deadletter records events that could not be handled.
//
// A record keeps the original stored bytes, the last error and the number
// of attempts, so an operator can see why a submission never completed.
// Records are keyed by a sortable id and list in failure order.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
	"github.com/rzbill/docflow/pkg/id"
)

// Record is one dead-lettered event.
type Record struct {
	ID        string    `json:"id"`
	Range     string    `json:"range"`
	Seq       uint64    `json:"seq"`
	EventID   string    `json:"eventId,omitempty"`
	EventType string    `json:"eventType,omitempty"`
	Event     []byte    `json:"event"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failedAt"`
}

// ListOptions filters List.
type ListOptions struct {
	// Range restricts results to one partition range when set.
	Range string
	// After resumes listing after this record id.
	After string
	Limit int
}

// Store persists dead letters.
type Store interface {
	Put(ctx context.Context, r Record) (Record, error)
	List(ctx context.Context, opts ListOptions) ([]Record, error)
}

// PebbleStore keeps records under dlq/{id}.
type PebbleStore struct {
	db  *pebblestore.DB
	ids *id.Generator
}

func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db, ids: id.NewGenerator()}
}

var prefix = []byte("dlq/")

func key(recID id.ID) []byte { return append(append([]byte(nil), prefix...), recID[:]...) }

// Put assigns an id (when empty) and stores r.
func (s *PebbleStore) Put(ctx context.Context, r Record) (Record, error) {
	recID := s.ids.Next()
	if r.ID != "" {
		parsed, err := id.Parse(r.ID)
		if err != nil {
			return Record{}, fmt.Errorf("dead letter id: %w", err)
		}
		recID = parsed
	}
	r.ID = recID.String()
	if r.FailedAt.IsZero() {
		r.FailedAt = recID.Time()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return Record{}, err
	}
	if err := s.db.Set(ctx, key(recID), b); err != nil {
		return Record{}, fmt.Errorf("write dead letter: %w", err)
	}
	return r, nil
}

// List returns records in failure order.
func (s *PebbleStore) List(_ context.Context, opts ListOptions) ([]Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	var after []byte
	if opts.After != "" {
		a, err := id.Parse(opts.After)
		if err != nil {
			return nil, fmt.Errorf("after: %w", err)
		}
		after = key(a)
	}

	var (
		out     []Record
		iterErr error
	)
	err := s.db.Scan(prefix, func(k, v []byte) bool {
		if after != nil && string(k) <= string(after) {
			return true
		}
		var r Record
		if err := json.Unmarshal(v, &r); err != nil {
			iterErr = fmt.Errorf("decode dead letter: %w", err)
			return false
		}
		if opts.Range != "" && r.Range != opts.Range {
			return true
		}
		out = append(out, r)
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, iterErr
}
