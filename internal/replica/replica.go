// Package replica assembles one docflow replica: heartbeats, leader
// election, the leader-only coordinator and the supervisor that runs a feed
// consumer per owned range, all in one errgroup.
package replica

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rzbill/docflow/internal/backoff"
	cfgpkg "github.com/rzbill/docflow/internal/config"
	"github.com/rzbill/docflow/internal/coord"
	"github.com/rzbill/docflow/internal/feed"
	"github.com/rzbill/docflow/internal/projection"
	"github.com/rzbill/docflow/internal/relay"
	"github.com/rzbill/docflow/internal/runtime"
	"github.com/rzbill/docflow/pkg/log"
)

// Options for building a Replica.
type Options struct {
	Runtime *runtime.Runtime
	Config  cfgpkg.Config
	Logger  log.Logger
	// Publisher overrides the relay publisher built from Config.Relay.
	Publisher relay.Publisher
	// Clock defaults to time.Now.
	Clock coord.Clock
}

// Replica is one member of the consumer group.
type Replica struct {
	id     string
	rt     *runtime.Runtime
	logger log.Logger

	mux         *feed.Mux
	consumer    *feed.Consumer
	elector     *coord.Elector
	heartbeater *coord.Heartbeater
	coordinator *coord.Coordinator
	supervisor  *coord.Supervisor
	publisher   relay.Publisher

	running atomic.Bool
}

// NewID returns a replica id of the form <hostname>-<random>.
func NewID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "replica"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// New wires a replica over the stores of opts.Runtime.
func New(ctx context.Context, opts Options) (*Replica, error) {
	cfg := opts.Config
	id := cfg.ReplicaID
	if id == "" {
		id = NewID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.With(log.Str("replica", id))
	rt := opts.Runtime

	r := &Replica{id: id, rt: rt, logger: logger, mux: feed.NewMux()}

	proj := projection.NewHandler(rt.Projections(), rt.Log(), projection.HandlerConfig{
		MaxAttempts: cfg.Projection.MaxAttempts,
	}, logger)
	if err := proj.Register(r.mux); err != nil {
		return nil, err
	}

	r.publisher = opts.Publisher
	if r.publisher == nil && cfg.Relay.Enabled {
		pub, err := relay.New(ctx, relayConfig(cfg, id), logger)
		if err != nil {
			return nil, fmt.Errorf("relay: %w", err)
		}
		r.publisher = pub
	}
	if r.publisher != nil {
		if err := relay.NewHandler(r.publisher, relayConfig(cfg, id), logger).Register(r.mux); err != nil {
			return nil, err
		}
	}

	r.consumer = feed.NewConsumer(rt.Log(), rt.Cursors(), rt.DeadLetters(), feed.Config{
		BatchSize:      cfg.Consumer.BatchSize,
		PollWait:       ms(cfg.Consumer.PollWaitMs),
		CommitInterval: ms(cfg.Consumer.CommitIntervalMs),
		MaxAttempts:    cfg.Consumer.MaxAttempts,
		Backoff: backoff.Policy{
			Type:   backoff.ExpJitter,
			Base:   ms(cfg.Consumer.BackoffBaseMs),
			Cap:    ms(cfg.Consumer.BackoffCapMs),
			Factor: 2,
		},
		ShutdownGrace: ms(cfg.Consumer.ShutdownGraceMs),
	}, logger)

	co := cfg.Coordination
	store := rt.Coordination()
	r.elector = coord.NewElector(store, coord.ElectorConfig{ReplicaID: id, LeaseTTL: ms(co.LeaseTTLMs)}, opts.Clock, logger)
	r.coordinator = coord.NewCoordinator(store, r.elector, coord.CoordinatorConfig{
		Ranges:            rt.Ranges().All(),
		RebalanceInterval: ms(co.RebalanceIntervalMs),
		EvictionTimeout:   ms(co.EvictionTimeoutMs),
	}, opts.Clock, logger)
	r.elector.OnStartedLeading = r.coordinator.Lead
	r.heartbeater = coord.NewHeartbeater(store, id, ms(co.HeartbeatIntervalMs), opts.Clock, logger)
	r.supervisor = coord.NewSupervisor(store, r.runRange, coord.SupervisorConfig{
		ReplicaID:     id,
		PollInterval:  ms(co.AssignmentPollMs),
		ShutdownGrace: ms(cfg.Consumer.ShutdownGraceMs) + time.Second,
	}, logger)
	return r, nil
}

func relayConfig(cfg cfgpkg.Config, replicaID string) relay.Config {
	rc := cfg.Relay
	return relay.Config{
		Enabled:    rc.Enabled,
		Kind:       rc.Kind,
		Source:     "docflow/" + replicaID,
		Filter:     rc.Filter,
		Brokers:    rc.Brokers,
		Topic:      rc.Topic,
		URL:        rc.URL,
		Exchange:   rc.Exchange,
		RoutingKey: rc.RoutingKey,
	}
}

func (r *Replica) runRange(ctx context.Context, rangeID string, generation uint64) error {
	return r.consumer.Run(ctx, rangeID, generation, r.mux)
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails. Consumers are stopped and their cursors committed before Run
// returns.
func (r *Replica) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)
	r.logger.Info("replica starting", log.Int("ranges", r.rt.Ranges().Count()), log.Str("backend", r.rt.Backend()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.heartbeater.Run(gctx) })
	g.Go(func() error { return r.elector.Run(gctx) })
	g.Go(func() error { return r.supervisor.Run(gctx) })
	err := g.Wait()

	if r.publisher != nil {
		if cerr := r.publisher.Close(); cerr != nil {
			r.logger.Warn("close relay publisher", log.Err(cerr))
		}
	}
	r.logger.Info("replica stopped")
	return err
}

// ID returns the replica id.
func (r *Replica) ID() string { return r.id }

// Running reports whether Run is active.
func (r *Replica) Running() bool { return r.running.Load() }

// Role returns the replica's election state.
func (r *Replica) Role() coord.Role { return r.elector.Role() }

// IsLeader reports whether the replica holds a usable lease.
func (r *Replica) IsLeader() bool {
	_, ok := r.elector.Lease()
	return ok
}

// Owned lists the ranges this replica is consuming.
func (r *Replica) Owned() []string { return r.supervisor.Owned() }

// Mux exposes the dispatch table so embedders can register extra handlers
// before Run.
func (r *Replica) Mux() *feed.Mux { return r.mux }
