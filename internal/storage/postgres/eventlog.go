package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/docflow/internal/event"
	"github.com/rzbill/docflow/internal/eventlog"
)

// EventLog is the shared event log.
type EventLog struct {
	db *DB
}

var _ eventlog.Log = (*EventLog)(nil)

// EventLog returns the event log view of db.
func (db *DB) EventLog() *EventLog { return &EventLog{db: db} }

func (l *EventLog) Ranges() eventlog.Ranges { return l.db.ranges }

// Append validates ev and appends it to its range. Appending an existing id
// returns the original position with appended=false.
func (l *EventLog) Append(ctx context.Context, ev event.Envelope) (eventlog.Position, bool, error) {
	payload, err := event.Encode(ev)
	if err != nil {
		return eventlog.Position{}, false, err
	}
	idx := l.db.ranges.IndexFor(ev.SubmissionID)
	rangeID := eventlog.RangeID(idx)

	var (
		pos      eventlog.Position
		appended bool
	)
	err = l.db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext('docflow_events'), $1)", int32(idx)); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		var existing eventlog.Position
		found, err := lookup(ctx, tx, ev.ID, &existing)
		if err != nil {
			return err
		}
		if found {
			pos = existing
			return nil
		}

		var maxSeq int64
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) FROM docflow_events WHERE range_id = $1", int32(idx)).Scan(&maxSeq); err != nil {
			return fmt.Errorf("failed to get max seq: %w", err)
		}
		seq := uint64(maxSeq) + 1
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO docflow_events (range_id, seq, event_id, event_type, submission_id, payload)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			int32(idx), int64(seq), ev.ID, string(ev.Type), ev.SubmissionID, payload); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", appendChannel, rangeID); err != nil {
			return fmt.Errorf("failed to notify: %w", err)
		}
		pos = eventlog.Position{Range: rangeID, Seq: seq}
		appended = true
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// Same id appended concurrently under a different submission id.
		p, found, lerr := l.Lookup(ctx, ev.ID)
		if lerr == nil && found {
			return p, false, nil
		}
	}
	if err != nil {
		return eventlog.Position{}, false, fmt.Errorf("append %s: %w", rangeID, err)
	}
	return pos, appended, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookup(ctx context.Context, q queryRower, eventID string, pos *eventlog.Position) (bool, error) {
	var idx int32
	var seq int64
	err := q.QueryRowContext(ctx, "SELECT range_id, seq FROM docflow_events WHERE event_id = $1", eventID).Scan(&idx, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up event: %w", err)
	}
	*pos = eventlog.Position{Range: eventlog.RangeID(uint32(idx)), Seq: uint64(seq)}
	return true, nil
}

// Lookup reports where eventID was appended.
func (l *EventLog) Lookup(ctx context.Context, eventID string) (eventlog.Position, bool, error) {
	var pos eventlog.Position
	found, err := lookup(ctx, l.db.sql, eventID, &pos)
	return pos, found, err
}

// Fetch returns up to limit items of rangeID strictly after the token.
func (l *EventLog) Fetch(ctx context.Context, rangeID string, after []byte, limit int) ([]eventlog.Item, error) {
	idx, err := l.db.ranges.Index(rangeID)
	if err != nil {
		return nil, err
	}
	afterSeq, err := eventlog.SeqFromToken(after)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 128
	}
	rows, err := l.db.sql.QueryContext(ctx, `
		SELECT seq, event_id, payload
		FROM docflow_events
		WHERE range_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`, int32(idx), int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	items := make([]eventlog.Item, 0, limit)
	for rows.Next() {
		var (
			seq int64
			it  = eventlog.Item{Range: rangeID}
		)
		if err := rows.Scan(&seq, &it.EventID, &it.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		it.Seq = uint64(seq)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return items, nil
}

// WaitForAppend blocks until a NOTIFY for rangeID arrives, timeout elapses
// or ctx is done.
func (l *EventLog) WaitForAppend(ctx context.Context, rangeID string, timeout time.Duration) bool {
	ch := l.db.notifier.wait(rangeID)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
