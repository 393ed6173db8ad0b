package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rzbill/docflow/internal/cursor"
	"github.com/rzbill/docflow/internal/deadletter"
	"github.com/rzbill/docflow/internal/projection"
	"github.com/rzbill/docflow/pkg/id"
)

// CursorStore implements cursor.Store.
type CursorStore struct{ db *DB }

var _ cursor.Store = (*CursorStore)(nil)

func (db *DB) Cursors() *CursorStore { return &CursorStore{db: db} }

func (s *CursorStore) Get(ctx context.Context, rangeID string) (cursor.Cursor, bool, error) {
	var (
		c   cursor.Cursor
		gen int64
	)
	err := s.db.sql.QueryRowContext(ctx,
		"SELECT token, generation, updated_at FROM docflow_cursors WHERE range_id = $1", rangeID).
		Scan(&c.Token, &gen, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cursor.Cursor{}, false, nil
	}
	if err != nil {
		return cursor.Cursor{}, false, fmt.Errorf("get cursor %s: %w", rangeID, err)
	}
	c.Generation = uint64(gen)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, true, nil
}

// Put upserts c when it is not older than the stored cursor: a newer
// generation always wins, the same generation only moves forward.
func (s *CursorStore) Put(ctx context.Context, rangeID string, c cursor.Cursor) error {
	token := c.Token
	if token == nil {
		token = []byte{}
	}
	res, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO docflow_cursors (range_id, token, generation, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (range_id) DO UPDATE
		SET token = EXCLUDED.token, generation = EXCLUDED.generation, updated_at = EXCLUDED.updated_at
		WHERE docflow_cursors.generation < EXCLUDED.generation
		   OR (docflow_cursors.generation = EXCLUDED.generation AND docflow_cursors.token <= EXCLUDED.token)`,
		rangeID, token, int64(c.Generation), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put cursor %s: %w", rangeID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	stored, ok, err := s.Get(ctx, rangeID)
	if err != nil {
		return err
	}
	if _, err := cursor.Resolve(storedPtr(stored, ok), c); err != nil {
		return err
	}
	return nil
}

func storedPtr(c cursor.Cursor, ok bool) *cursor.Cursor {
	if !ok {
		return nil
	}
	return &c
}

// SubmissionStore implements projection.Store.
type SubmissionStore struct{ db *DB }

var _ projection.Store = (*SubmissionStore)(nil)

func (db *DB) Submissions() *SubmissionStore { return &SubmissionStore{db: db} }

func (s *SubmissionStore) Get(ctx context.Context, submissionID string) (projection.Submission, bool, error) {
	var raw []byte
	err := s.db.sql.QueryRowContext(ctx,
		"SELECT record FROM docflow_submissions WHERE submission_id = $1", submissionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return projection.Submission{}, false, nil
	}
	if err != nil {
		return projection.Submission{}, false, fmt.Errorf("get submission %s: %w", submissionID, err)
	}
	var sub projection.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return projection.Submission{}, false, fmt.Errorf("decode submission %s: %w", submissionID, err)
	}
	return sub, true, nil
}

func (s *SubmissionStore) Put(ctx context.Context, sub projection.Submission, expected uint64) error {
	if sub.Version != expected+1 {
		return fmt.Errorf("projection: version %d does not follow %d", sub.Version, expected)
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	var res sql.Result
	if expected == 0 {
		res, err = s.db.sql.ExecContext(ctx, `
			INSERT INTO docflow_submissions (submission_id, version, record)
			VALUES ($1, $2, $3)
			ON CONFLICT (submission_id) DO NOTHING`,
			sub.SubmissionID, int64(sub.Version), raw)
	} else {
		res, err = s.db.sql.ExecContext(ctx, `
			UPDATE docflow_submissions SET version = $2, record = $3
			WHERE submission_id = $1 AND version = $4`,
			sub.SubmissionID, int64(sub.Version), raw, int64(expected))
	}
	if err != nil {
		return fmt.Errorf("put submission %s: %w", sub.SubmissionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return projection.ErrVersionMismatch
	}
	return nil
}

// DeadLetterStore implements deadletter.Store.
type DeadLetterStore struct {
	db  *DB
	ids *id.Generator
}

var _ deadletter.Store = (*DeadLetterStore)(nil)

func (db *DB) DeadLetters() *DeadLetterStore {
	return &DeadLetterStore{db: db, ids: id.NewGenerator()}
}

func (s *DeadLetterStore) Put(ctx context.Context, r deadletter.Record) (deadletter.Record, error) {
	recID := s.ids.Next()
	if r.ID != "" {
		parsed, err := id.Parse(r.ID)
		if err != nil {
			return deadletter.Record{}, fmt.Errorf("dead letter id: %w", err)
		}
		recID = parsed
	}
	r.ID = recID.String()
	if r.FailedAt.IsZero() {
		r.FailedAt = recID.Time()
	}
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO docflow_dead_letters (id, range_id, seq, event_id, event_type, event, error, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET error = EXCLUDED.error, attempts = EXCLUDED.attempts, failed_at = EXCLUDED.failed_at`,
		r.ID, r.Range, int64(r.Seq), r.EventID, r.EventType, r.Event, r.Error, r.Attempts, r.FailedAt.UTC())
	if err != nil {
		return deadletter.Record{}, fmt.Errorf("write dead letter: %w", err)
	}
	return r, nil
}

func (s *DeadLetterStore) List(ctx context.Context, opts deadletter.ListOptions) ([]deadletter.Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT id, range_id, seq, event_id, event_type, event, error, attempts, failed_at
		FROM docflow_dead_letters
		WHERE ($1 = '' OR range_id = $1) AND id > $2
		ORDER BY id ASC
		LIMIT $3`, opts.Range, opts.After, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var out []deadletter.Record
	for rows.Next() {
		var (
			r   deadletter.Record
			seq int64
		)
		if err := rows.Scan(&r.ID, &r.Range, &seq, &r.EventID, &r.EventType, &r.Event, &r.Error, &r.Attempts, &r.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		r.Seq = uint64(seq)
		r.FailedAt = r.FailedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
