package coord

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rzbill/docflow/pkg/log"
)

// ElectorConfig tunes leader election.
type ElectorConfig struct {
	ReplicaID string
	LeaseTTL  time.Duration
	// RenewInterval is how often the leader renews. Defaults to LeaseTTL/3.
	RenewInterval time.Duration
	// RetryInterval is how often a follower tries to acquire. Defaults to
	// LeaseTTL/3.
	RetryInterval time.Duration
	// SafetyMargin is subtracted from the lease expiry when deciding locally
	// whether the lease is still held. Defaults to LeaseTTL/10.
	SafetyMargin time.Duration
}

func (c *ElectorConfig) withDefaults() {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 15 * time.Second
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = c.LeaseTTL / 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = c.LeaseTTL / 3
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = c.LeaseTTL / 10
	}
}

// Elector runs the Follower -> Candidate -> Leader state machine for one
// replica.
type Elector struct {
	store  Store
	cfg    ElectorConfig
	clock  Clock
	logger log.Logger

	// OnStartedLeading runs in its own goroutine each time the replica wins
	// the lease. Its context is cancelled when leadership ends.
	OnStartedLeading func(ctx context.Context)

	mu    sync.RWMutex
	role  Role
	lease Lease
}

// NewElector builds an Elector. clock may be nil.
func NewElector(store Store, cfg ElectorConfig, clock Clock, logger log.Logger) *Elector {
	cfg.withDefaults()
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Elector{
		store:  store,
		cfg:    cfg,
		clock:  clock,
		logger: logger.WithComponent("elector").With(log.Str("replica", cfg.ReplicaID)),
	}
}

// Role returns the current election state.
func (e *Elector) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// Lease returns the held lease while it is safely within its expiry.
func (e *Elector) Lease() (Lease, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.role != Leader || !e.clock().Before(e.lease.ExpiresAt.Add(-e.cfg.SafetyMargin)) {
		return Lease{}, false
	}
	return e.lease, true
}

func (e *Elector) set(role Role, l Lease) {
	e.mu.Lock()
	e.role, e.lease = role, l
	e.mu.Unlock()
}

// Run competes for the lease until ctx is done. A held lease is released on
// the way out so a successor does not wait for expiry.
func (e *Elector) Run(ctx context.Context) error {
	var (
		leadCancel context.CancelFunc
		leadWG     sync.WaitGroup
	)
	stepDown := func(reason string) {
		l := e.lease
		e.set(Follower, Lease{})
		if leadCancel != nil {
			leadCancel()
			leadWG.Wait()
			leadCancel = nil
		}
		e.logger.Info("stepped down", log.Str("reason", reason), log.Uint64("fencing_token", l.FencingToken))
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if e.Role() == Leader {
				held := e.lease
				stepDown("shutdown")
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RenewInterval)
				if err := e.store.ReleaseLease(rctx, held); err != nil {
					e.logger.Warn("release lease failed", log.Err(err))
				}
				cancel()
			}
			return nil
		case <-timer.C:
		}

		if e.Role() == Leader {
			e.renew(ctx, stepDown)
			timer.Reset(e.cfg.RenewInterval)
			continue
		}

		e.set(Candidate, Lease{})
		l, err := e.store.AcquireLease(ctx, e.cfg.ReplicaID, e.cfg.LeaseTTL, e.clock())
		switch {
		case err == nil:
			e.set(Leader, l)
			e.logger.Info("acquired leadership", log.Uint64("fencing_token", l.FencingToken))
			if e.OnStartedLeading != nil {
				var lctx context.Context
				lctx, leadCancel = context.WithCancel(ctx)
				leadWG.Add(1)
				go func() {
					defer leadWG.Done()
					e.OnStartedLeading(lctx)
				}()
			}
			timer.Reset(e.cfg.RenewInterval)
		case errors.Is(err, ErrLeaseHeld):
			e.set(Follower, Lease{})
			timer.Reset(e.cfg.RetryInterval)
		default:
			e.set(Follower, Lease{})
			if ctx.Err() == nil {
				e.logger.Warn("acquire lease failed", log.Err(err))
			}
			timer.Reset(e.cfg.RetryInterval)
		}
	}
}

func (e *Elector) renew(ctx context.Context, stepDown func(string)) {
	l, err := e.store.RenewLease(ctx, e.lease, e.cfg.LeaseTTL, e.clock())
	switch {
	case err == nil:
		e.set(Leader, l)
	case errors.Is(err, ErrNotLeader):
		stepDown("lease lost")
	default:
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("renew lease failed", log.Err(err))
		if _, ok := e.Lease(); !ok {
			stepDown("lease expired before renewal")
		}
	}
}
