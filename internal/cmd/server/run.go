package serverrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/docflow/internal/config"
	"github.com/rzbill/docflow/internal/relay"
	"github.com/rzbill/docflow/internal/replica"
	"github.com/rzbill/docflow/internal/runtime"
	grpcserver "github.com/rzbill/docflow/internal/server/grpc"
	httpserver "github.com/rzbill/docflow/internal/server/http"
	logpkg "github.com/rzbill/docflow/pkg/log"
)

// Options configures Run.
type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Publisher overrides the relay publisher built from Config.Relay.
	Publisher relay.Publisher
	// Ready, when set, receives the replica once the servers are started.
	Ready func(*replica.Replica)
}

// Run opens the configured backend, starts one replica with its HTTP and
// gRPC servers, and blocks until ctx is cancelled or a component fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	procLogger := opts.Logger
	if procLogger == nil {
		l, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		procLogger = l
	}
	restore := logpkg.RedirectStdLog(procLogger)
	defer restore()

	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	rep, err := replica.New(sctx, replica.Options{Runtime: rt, Config: cfg, Logger: procLogger, Publisher: opts.Publisher})
	if err != nil {
		return err
	}

	procLogger.Info("Starting docflow replica",
		logpkg.Str("replica", rep.ID()),
		logpkg.Str("backend", rt.Backend()),
		logpkg.Int("partitions", cfg.Partitions),
		logpkg.Str("grpc", cfg.Server.GRPCAddr),
		logpkg.Str("http", cfg.Server.HTTPAddr),
		logpkg.Bool("relay", cfg.Relay.Enabled),
	)

	hsrv := httpserver.New(rt, rep, procLogger)
	gsrv := grpcserver.New(rt, rep, procLogger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return rep.Run(gctx) })
	if cfg.Server.HTTPAddr != "" {
		g.Go(func() error { return hsrv.ListenAndServe(gctx, cfg.Server.HTTPAddr) })
	}
	if cfg.Server.GRPCAddr != "" {
		g.Go(func() error { return gsrv.ListenAndServe(gctx, cfg.Server.GRPCAddr) })
	}
	if opts.Ready != nil {
		opts.Ready(rep)
	}

	err = g.Wait()
	hsrv.Close()
	gsrv.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
