package coord

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rzbill/docflow/pkg/log"
)

// RunFunc consumes one range until ctx is cancelled. generation is the
// assignment generation the range was granted under.
type RunFunc func(ctx context.Context, rangeID string, generation uint64) error

// SupervisorConfig tunes the assignment poll.
type SupervisorConfig struct {
	ReplicaID     string
	PollInterval  time.Duration
	ShutdownGrace time.Duration
}

type worker struct {
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
}

// Supervisor keeps one worker running per range assigned to its replica.
type Supervisor struct {
	store  Store
	run    RunFunc
	cfg    SupervisorConfig
	logger log.Logger

	mu         sync.Mutex
	workers    map[string]*worker
	generation uint64
}

// NewSupervisor builds a Supervisor.
func NewSupervisor(store Store, run RunFunc, cfg SupervisorConfig, logger log.Logger) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Supervisor{
		store:   store,
		run:     run,
		cfg:     cfg,
		logger:  logger.WithComponent("supervisor").With(log.Str("replica", cfg.ReplicaID)),
		workers: make(map[string]*worker),
	}
}

// Owned returns the ranges with a running worker, sorted.
func (s *Supervisor) Owned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for r, w := range s.workers {
		select {
		case <-w.done:
		default:
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// Generation returns the last assignment generation applied.
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Run polls the assignment until ctx is done, then stops every worker and
// waits up to ShutdownGrace for them to exit.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("assignment poll failed", log.Err(err))
		}
		select {
		case <-ctx.Done():
			s.stopAll()
			return nil
		case <-ticker.C:
		}
	}
}

// Sync reads the assignment once and reconciles the running workers with it.
// A worker keeps running across generations while its range stays owned;
// one that has exited is restarted under the current generation.
func (s *Supervisor) Sync(ctx context.Context) error {
	a, ok, err := s.store.GetAssignment(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]bool)
	if ok {
		for _, r := range a.RangesOf(s.cfg.ReplicaID) {
			want[r] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.generation = a.Generation

	for r, w := range s.workers {
		if want[r] {
			continue
		}
		w.cancel()
		delete(s.workers, r)
		s.logger.Info("range released", log.Str("range", r), log.Uint64("generation", a.Generation))
	}
	for r := range want {
		if w, running := s.workers[r]; running {
			select {
			case <-w.done:
			default:
				continue
			}
		}
		s.start(ctx, r, a.Generation)
	}
	return nil
}

func (s *Supervisor) start(ctx context.Context, rangeID string, generation uint64) {
	wctx, cancel := context.WithCancel(ctx)
	w := &worker{generation: generation, cancel: cancel, done: make(chan struct{})}
	s.workers[rangeID] = w
	s.logger.Info("range acquired", log.Str("range", rangeID), log.Uint64("generation", generation))
	go func() {
		defer close(w.done)
		w.err = s.run(wctx, rangeID, generation)
		if w.err != nil && !errors.Is(w.err, context.Canceled) {
			s.logger.Warn("range worker exited", log.Str("range", rangeID), log.Err(w.err))
		}
	}()
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[string]*worker)
	s.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	deadline := time.NewTimer(s.cfg.ShutdownGrace)
	defer deadline.Stop()
	for r, w := range workers {
		select {
		case <-w.done:
		case <-deadline.C:
			s.logger.Warn("range worker did not stop in time", log.Str("range", r))
			return
		}
	}
}
