package eventlog

import (
	"context"
	"time"

	"github.com/rzbill/docflow/internal/event"
)

// Log is the event log surface shared by the Pebble Store and the
// PostgreSQL backend.
type Log interface {
	Ranges() Ranges
	Append(ctx context.Context, ev event.Envelope) (Position, bool, error)
	Lookup(ctx context.Context, eventID string) (Position, bool, error)
	Fetch(ctx context.Context, rangeID string, after []byte, limit int) ([]Item, error)
	// WaitForAppend blocks until rangeID receives an append, ctx is done or
	// timeout elapses. It reports whether an append was observed.
	WaitForAppend(ctx context.Context, rangeID string, timeout time.Duration) bool
}

var _ Log = (*Store)(nil)
