package eventlog

import (
	"context"
	"time"
)

// WaitForAppend blocks until rangeID receives an append, timeout elapses or
// ctx is done. It returns true only when woken by an append.
func (s *Store) WaitForAppend(ctx context.Context, rangeID string, timeout time.Duration) bool {
	p, err := s.part(rangeID)
	if err != nil {
		return false
	}
	p.mu.Lock()
	ch := p.notifyCh
	p.mu.Unlock()

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
