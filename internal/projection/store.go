package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
)

var (
	// ErrVersionMismatch is returned by Put when the stored version differs
	// from the expected one.
	ErrVersionMismatch = errors.New("projection: version mismatch")
	// ErrConflict is returned when the retry budget for a write is exhausted.
	ErrConflict = errors.New("projection: too many concurrent writers")
)

// Store reads and version-checks writes of submission records.
type Store interface {
	Get(ctx context.Context, submissionID string) (Submission, bool, error)
	// Put stores s if the current version equals expected (0 when absent).
	// s.Version must be expected+1.
	Put(ctx context.Context, s Submission, expected uint64) error
}

// PebbleStore keeps records under sub/{submissionId}.
type PebbleStore struct {
	db *pebblestore.DB
}

func NewPebbleStore(db *pebblestore.DB) *PebbleStore { return &PebbleStore{db: db} }

func key(id string) []byte { return []byte("sub/" + id) }

func (s *PebbleStore) Get(_ context.Context, id string) (Submission, bool, error) {
	v, err := s.db.Get(key(id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Submission{}, false, nil
	}
	if err != nil {
		return Submission{}, false, fmt.Errorf("get submission %s: %w", id, err)
	}
	var sub Submission
	if err := json.Unmarshal(v, &sub); err != nil {
		return Submission{}, false, fmt.Errorf("decode submission %s: %w", id, err)
	}
	return sub, true, nil
}

func (s *PebbleStore) Put(ctx context.Context, sub Submission, expected uint64) error {
	if sub.Version != expected+1 {
		return fmt.Errorf("projection: version %d does not follow %d", sub.Version, expected)
	}
	return s.db.Update(ctx, key(sub.SubmissionID), func(cur []byte, found bool, _ *pebble.Batch) ([]byte, error) {
		var have uint64
		if found {
			var stored struct {
				Version uint64 `json:"version"`
			}
			if err := json.Unmarshal(cur, &stored); err != nil {
				return nil, fmt.Errorf("decode submission %s: %w", sub.SubmissionID, err)
			}
			have = stored.Version
		}
		if have != expected {
			return nil, ErrVersionMismatch
		}
		return json.Marshal(sub)
	})
}
