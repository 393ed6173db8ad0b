package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
)

// Store holds the lease, heartbeat and assignment tables.
type Store interface {
	GetLease(ctx context.Context) (Lease, bool, error)
	// AcquireLease applies NextLease atomically.
	AcquireLease(ctx context.Context, replicaID string, ttl time.Duration, now time.Time) (Lease, error)
	// RenewLease applies RenewedLease atomically.
	RenewLease(ctx context.Context, held Lease, ttl time.Duration, now time.Time) (Lease, error)
	// ReleaseLease expires held if it is still the stored lease. The token
	// is kept so the next holder still gets a larger one.
	ReleaseLease(ctx context.Context, held Lease) error

	PutHeartbeat(ctx context.Context, hb Heartbeat) error
	ListHeartbeats(ctx context.Context) ([]Heartbeat, error)

	GetAssignment(ctx context.Context) (Assignment, bool, error)
	// PutAssignment replaces the assignment if held passes CheckFence. The
	// stored generation becomes the previous one plus one.
	PutAssignment(ctx context.Context, owners map[string][]string, held Lease, now time.Time) (Assignment, error)
}

var (
	keyLease      = []byte("coord/lease")
	keyAssignment = []byte("coord/assignment")
	prefixHB      = []byte("coord/hb/")
)

// PebbleStore implements Store on a Pebble DB shared by in-process replicas.
type PebbleStore struct {
	db *pebblestore.DB
	// mu makes lease checks and assignment writes one atomic step.
	mu sync.Mutex
}

func NewPebbleStore(db *pebblestore.DB) *PebbleStore { return &PebbleStore{db: db} }

func (s *PebbleStore) getJSON(key []byte, v any) (bool, error) {
	b, err := s.db.Get(key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *PebbleStore) putJSON(ctx context.Context, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set(ctx, key, b)
}

func (s *PebbleStore) GetLease(_ context.Context) (Lease, bool, error) {
	var l Lease
	ok, err := s.getJSON(keyLease, &l)
	return l, ok, err
}

func (s *PebbleStore) AcquireLease(ctx context.Context, replicaID string, ttl time.Duration, now time.Time) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored Lease
	if _, err := s.getJSON(keyLease, &stored); err != nil {
		return Lease{}, err
	}
	next, err := NextLease(stored, replicaID, ttl, now)
	if err != nil {
		return next, err
	}
	if err := s.putJSON(ctx, keyLease, next); err != nil {
		return Lease{}, fmt.Errorf("write lease: %w", err)
	}
	return next, nil
}

func (s *PebbleStore) RenewLease(ctx context.Context, held Lease, ttl time.Duration, now time.Time) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored Lease
	if _, err := s.getJSON(keyLease, &stored); err != nil {
		return Lease{}, err
	}
	next, err := RenewedLease(stored, held, ttl, now)
	if err != nil {
		return next, err
	}
	if err := s.putJSON(ctx, keyLease, next); err != nil {
		return Lease{}, fmt.Errorf("write lease: %w", err)
	}
	return next, nil
}

func (s *PebbleStore) ReleaseLease(ctx context.Context, held Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored Lease
	if _, err := s.getJSON(keyLease, &stored); err != nil {
		return err
	}
	if stored.Holder != held.Holder || stored.FencingToken != held.FencingToken {
		return nil
	}
	stored.Holder = ""
	stored.ExpiresAt = time.Time{}
	return s.putJSON(ctx, keyLease, stored)
}

func (s *PebbleStore) PutHeartbeat(ctx context.Context, hb Heartbeat) error {
	return s.putJSON(ctx, append(append([]byte(nil), prefixHB...), hb.ReplicaID...), hb)
}

func (s *PebbleStore) ListHeartbeats(_ context.Context) ([]Heartbeat, error) {
	var (
		out    []Heartbeat
		decErr error
	)
	err := s.db.Scan(prefixHB, func(_, v []byte) bool {
		var hb Heartbeat
		if err := json.Unmarshal(v, &hb); err != nil {
			decErr = fmt.Errorf("decode heartbeat: %w", err)
			return false
		}
		out = append(out, hb)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReplicaID < out[j].ReplicaID })
	return out, decErr
}

func (s *PebbleStore) GetAssignment(_ context.Context) (Assignment, bool, error) {
	var a Assignment
	ok, err := s.getJSON(keyAssignment, &a)
	return a, ok, err
}

func (s *PebbleStore) PutAssignment(ctx context.Context, owners map[string][]string, held Lease, now time.Time) (Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored Lease
	if _, err := s.getJSON(keyLease, &stored); err != nil {
		return Assignment{}, err
	}
	if err := CheckFence(stored, held, now); err != nil {
		return Assignment{}, err
	}

	var next Assignment
	err := s.db.Update(ctx, keyAssignment, func(cur []byte, found bool, _ *pebble.Batch) ([]byte, error) {
		var prev Assignment
		if found {
			if err := json.Unmarshal(cur, &prev); err != nil {
				return nil, fmt.Errorf("decode assignment: %w", err)
			}
		}
		if prev.FencingToken > held.FencingToken {
			return nil, fmt.Errorf("%w: assignment written under token %d", ErrFenced, prev.FencingToken)
		}
		next = Assignment{
			Generation:   prev.Generation + 1,
			FencingToken: held.FencingToken,
			Owners:       owners,
			UpdatedAt:    now.UTC(),
		}
		return json.Marshal(next)
	})
	if err != nil {
		return Assignment{}, err
	}
	return next, nil
}
