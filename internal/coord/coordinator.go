package coord

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/docflow/pkg/log"
)

// CoordinatorConfig tunes the leader's rebalance loop.
type CoordinatorConfig struct {
	Ranges            []string
	RebalanceInterval time.Duration
	EvictionTimeout   time.Duration
}

// LeaseSource yields the lease the leader currently holds.
type LeaseSource interface {
	Lease() (Lease, bool)
}

// Coordinator recomputes and publishes the assignment while its replica
// leads.
type Coordinator struct {
	store  Store
	leases LeaseSource
	cfg    CoordinatorConfig
	clock  Clock
	logger log.Logger
}

// NewCoordinator builds a Coordinator. clock may be nil.
func NewCoordinator(store Store, leases LeaseSource, cfg CoordinatorConfig, clock Clock, logger log.Logger) *Coordinator {
	if cfg.RebalanceInterval <= 0 {
		cfg.RebalanceInterval = 5 * time.Second
	}
	if cfg.EvictionTimeout <= 0 {
		cfg.EvictionTimeout = 10 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Coordinator{store: store, leases: leases, cfg: cfg, clock: clock, logger: logger.WithComponent("coordinator")}
}

// Lead rebalances immediately and then on every interval until ctx is done.
// It is meant to be used as Elector.OnStartedLeading.
func (c *Coordinator) Lead(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.RebalanceInterval)
	defer ticker.Stop()
	for {
		if _, err := c.Rebalance(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, ErrFenced) {
				c.logger.Info("rebalance abandoned: leadership moved", log.Err(err))
			} else {
				c.logger.Warn("rebalance failed", log.Err(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Rebalance computes the desired assignment and writes it when it differs
// from the stored one. It reports whether a write happened.
func (c *Coordinator) Rebalance(ctx context.Context) (bool, error) {
	now := c.clock()
	hbs, err := c.store.ListHeartbeats(ctx)
	if err != nil {
		return false, err
	}
	live := make([]string, 0, len(hbs))
	for _, hb := range hbs {
		if hb.Alive(now, c.cfg.EvictionTimeout) {
			live = append(live, hb.ReplicaID)
		}
	}
	if len(live) == 0 {
		return false, nil
	}

	cur, _, err := c.store.GetAssignment(ctx)
	if err != nil {
		return false, err
	}
	desired := Balance(cur.Owners, c.cfg.Ranges, live)
	if SameOwners(desired, cur.Owners) {
		return false, nil
	}

	lease, ok := c.leases.Lease()
	if !ok {
		return false, ErrFenced
	}
	a, err := c.store.PutAssignment(ctx, desired, lease, c.clock())
	if err != nil {
		return false, err
	}
	c.logger.Info("assignment published",
		log.Uint64("generation", a.Generation),
		log.Uint64("fencing_token", a.FencingToken),
		log.Any("live", live))
	return true, nil
}
