package coord

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rzbill/docflow/pkg/log"
)

// Heartbeater reports a replica's liveness on a fixed interval.
type Heartbeater struct {
	store     Store
	replicaID string
	interval  time.Duration
	clock     Clock
	logger    log.Logger

	status   atomic.Value // Status
	lastSent atomic.Int64 // unix nanos
}

// NewHeartbeater builds a Heartbeater. clock may be nil.
func NewHeartbeater(store Store, replicaID string, interval time.Duration, clock Clock, logger log.Logger) *Heartbeater {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	h := &Heartbeater{
		store:     store,
		replicaID: replicaID,
		interval:  interval,
		clock:     clock,
		logger:    logger.WithComponent("heartbeat").With(log.Str("replica", replicaID)),
	}
	h.status.Store(StatusActive)
	return h
}

// SetStatus changes the status sent with the next heartbeat.
func (h *Heartbeater) SetStatus(s Status) { h.status.Store(s) }

// LastSent returns when the last heartbeat was written.
func (h *Heartbeater) LastSent() time.Time {
	n := h.lastSent.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Beat writes one heartbeat.
func (h *Heartbeater) Beat(ctx context.Context) error {
	now := h.clock()
	err := h.store.PutHeartbeat(ctx, Heartbeat{
		ReplicaID:  h.replicaID,
		LastSeenAt: now.UTC(),
		Status:     h.status.Load().(Status),
	})
	if err == nil {
		h.lastSent.Store(now.UnixNano())
	}
	return err
}

// Run beats immediately and then every interval until ctx is done. On the
// way out it reports the replica as draining so the leader moves its ranges
// without waiting for the eviction timeout.
func (h *Heartbeater) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			h.logger.Warn("heartbeat failed", log.Err(err))
		}
		select {
		case <-ctx.Done():
			h.SetStatus(StatusDraining)
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.interval)
			if err := h.Beat(dctx); err != nil {
				h.logger.Warn("draining heartbeat failed", log.Err(err))
			}
			cancel()
			return nil
		case <-ticker.C:
		}
	}
}
