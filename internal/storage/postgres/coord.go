package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rzbill/docflow/internal/coord"
)

// CoordStore implements coord.Store. The lease and assignment are single
// rows locked with SELECT ... FOR UPDATE for every conditional write.
type CoordStore struct{ db *DB }

var _ coord.Store = (*CoordStore)(nil)

func (db *DB) Coordination() *CoordStore { return &CoordStore{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLease(row rowScanner) (coord.Lease, error) {
	var (
		l     coord.Lease
		token int64
	)
	if err := row.Scan(&l.Holder, &l.ExpiresAt, &token); err != nil {
		return coord.Lease{}, fmt.Errorf("read lease: %w", err)
	}
	l.FencingToken = uint64(token)
	l.ExpiresAt = l.ExpiresAt.UTC()
	if l.Holder == "" {
		l.ExpiresAt = time.Time{}
	}
	return l, nil
}

const selectLease = "SELECT holder, expires_at, fencing_token FROM docflow_lease WHERE id = 1"

func (s *CoordStore) GetLease(ctx context.Context) (coord.Lease, bool, error) {
	l, err := scanLease(s.db.sql.QueryRowContext(ctx, selectLease))
	if err != nil {
		return coord.Lease{}, false, err
	}
	return l, l.FencingToken > 0, nil
}

func (s *CoordStore) updateLease(ctx context.Context, fn func(stored coord.Lease) (coord.Lease, error)) (coord.Lease, error) {
	var next coord.Lease
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := scanLease(tx.QueryRowContext(ctx, selectLease+" FOR UPDATE"))
		if err != nil {
			return err
		}
		next, err = fn(stored)
		if err != nil {
			return err
		}
		expires := next.ExpiresAt
		if next.Holder == "" {
			expires = time.Unix(0, 0)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE docflow_lease SET holder = $1, expires_at = $2, fencing_token = $3 WHERE id = 1",
			next.Holder, expires.UTC(), int64(next.FencingToken))
		if err != nil {
			return fmt.Errorf("write lease: %w", err)
		}
		return nil
	})
	return next, err
}

func (s *CoordStore) AcquireLease(ctx context.Context, replicaID string, ttl time.Duration, now time.Time) (coord.Lease, error) {
	return s.updateLease(ctx, func(stored coord.Lease) (coord.Lease, error) {
		return coord.NextLease(stored, replicaID, ttl, now)
	})
}

func (s *CoordStore) RenewLease(ctx context.Context, held coord.Lease, ttl time.Duration, now time.Time) (coord.Lease, error) {
	return s.updateLease(ctx, func(stored coord.Lease) (coord.Lease, error) {
		return coord.RenewedLease(stored, held, ttl, now)
	})
}

func (s *CoordStore) ReleaseLease(ctx context.Context, held coord.Lease) error {
	_, err := s.db.sql.ExecContext(ctx,
		"UPDATE docflow_lease SET holder = '', expires_at = 'epoch' WHERE id = 1 AND holder = $1 AND fencing_token = $2",
		held.Holder, int64(held.FencingToken))
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *CoordStore) PutHeartbeat(ctx context.Context, hb coord.Heartbeat) error {
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO docflow_heartbeats (replica_id, last_seen_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (replica_id) DO UPDATE
		SET last_seen_at = EXCLUDED.last_seen_at, status = EXCLUDED.status`,
		hb.ReplicaID, hb.LastSeenAt.UTC(), string(hb.Status))
	if err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

func (s *CoordStore) ListHeartbeats(ctx context.Context) ([]coord.Heartbeat, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		"SELECT replica_id, last_seen_at, status FROM docflow_heartbeats ORDER BY replica_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query heartbeats: %w", err)
	}
	defer rows.Close()
	var out []coord.Heartbeat
	for rows.Next() {
		var (
			hb     coord.Heartbeat
			status string
		)
		if err := rows.Scan(&hb.ReplicaID, &hb.LastSeenAt, &status); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
		}
		hb.Status = coord.Status(status)
		hb.LastSeenAt = hb.LastSeenAt.UTC()
		out = append(out, hb)
	}
	return out, rows.Err()
}

const selectAssignment = "SELECT generation, fencing_token, owners, updated_at FROM docflow_assignment WHERE id = 1"

func scanAssignment(row rowScanner) (coord.Assignment, error) {
	var (
		a          coord.Assignment
		gen, token int64
		owners     []byte
	)
	if err := row.Scan(&gen, &token, &owners, &a.UpdatedAt); err != nil {
		return coord.Assignment{}, fmt.Errorf("read assignment: %w", err)
	}
	if err := json.Unmarshal(owners, &a.Owners); err != nil {
		return coord.Assignment{}, fmt.Errorf("decode assignment: %w", err)
	}
	a.Generation, a.FencingToken = uint64(gen), uint64(token)
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func (s *CoordStore) GetAssignment(ctx context.Context) (coord.Assignment, bool, error) {
	a, err := scanAssignment(s.db.sql.QueryRowContext(ctx, selectAssignment))
	if err != nil {
		return coord.Assignment{}, false, err
	}
	return a, a.Generation > 0, nil
}

func (s *CoordStore) PutAssignment(ctx context.Context, owners map[string][]string, held coord.Lease, now time.Time) (coord.Assignment, error) {
	raw, err := json.Marshal(owners)
	if err != nil {
		return coord.Assignment{}, err
	}
	var next coord.Assignment
	err = s.db.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := scanLease(tx.QueryRowContext(ctx, selectLease+" FOR SHARE"))
		if err != nil {
			return err
		}
		if err := coord.CheckFence(stored, held, now); err != nil {
			return err
		}
		prev, err := scanAssignment(tx.QueryRowContext(ctx, selectAssignment+" FOR UPDATE"))
		if err != nil {
			return err
		}
		if prev.FencingToken > held.FencingToken {
			return fmt.Errorf("%w: assignment written under token %d", coord.ErrFenced, prev.FencingToken)
		}
		next = coord.Assignment{
			Generation:   prev.Generation + 1,
			FencingToken: held.FencingToken,
			Owners:       owners,
			UpdatedAt:    now.UTC(),
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE docflow_assignment SET generation = $1, fencing_token = $2, owners = $3, updated_at = $4 WHERE id = 1",
			int64(next.Generation), int64(next.FencingToken), raw, next.UpdatedAt)
		if err != nil {
			return fmt.Errorf("write assignment: %w", err)
		}
		return nil
	})
	if err != nil {
		return coord.Assignment{}, err
	}
	return next, nil
}
