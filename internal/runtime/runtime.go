package runtime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	cfgpkg "github.com/rzbill/docflow/internal/config"
	"github.com/rzbill/docflow/internal/coord"
	"github.com/rzbill/docflow/internal/cursor"
	"github.com/rzbill/docflow/internal/deadletter"
	"github.com/rzbill/docflow/internal/eventlog"
	"github.com/rzbill/docflow/internal/projection"
	pebblestore "github.com/rzbill/docflow/internal/storage/pebble"
	"github.com/rzbill/docflow/internal/storage/postgres"
	"github.com/rzbill/docflow/pkg/log"
)

// ErrLayoutChanged is returned when the configured partition count differs
// from the one the store was created with.
var ErrLayoutChanged = errors.New("runtime: partition count differs from the stored layout")

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
}

// Runtime owns the configured backend and exposes its stores.
type Runtime struct {
	config cfgpkg.Config
	ranges eventlog.Ranges

	log         eventlog.Log
	cursors     cursor.Store
	submissions projection.Store
	deadLetters deadletter.Store
	coord       coord.Store

	pebble *pebblestore.DB
	pg     *postgres.DB
}

// Open initializes the configured backend and returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	rt := &Runtime{config: cfg, ranges: eventlog.NewRanges(cfg.Partitions)}

	switch cfg.Storage.Backend {
	case "", "pebble":
		mode, err := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
		if err != nil {
			return nil, err
		}
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir: filepath.Join(cfg.DataDir, "store"),
			Fsync:   mode,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		if err := checkLayout(ctx, db, cfg.Partitions); err != nil {
			_ = db.Close()
			return nil, err
		}
		el, err := eventlog.Open(db, rt.ranges)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		rt.pebble = db
		rt.log = el
		rt.cursors = cursor.NewPebbleStore(db)
		rt.submissions = projection.NewPebbleStore(db)
		rt.deadLetters = deadletter.NewPebbleStore(db)
		rt.coord = coord.NewPebbleStore(db)
	case "postgres":
		db, err := postgres.Open(ctx, postgres.Config{DSN: cfg.Storage.PostgresDSN}, rt.ranges, logger)
		if err != nil {
			return nil, err
		}
		rt.pg = db
		rt.log = db.EventLog()
		rt.cursors = db.Cursors()
		rt.submissions = db.Submissions()
		rt.deadLetters = db.DeadLetters()
		rt.coord = db.Coordination()
	default:
		return nil, fmt.Errorf("runtime: unknown storage backend %q", cfg.Storage.Backend)
	}
	logger.WithComponent("runtime").Info("storage opened",
		log.Str("backend", rt.Backend()), log.Int("partitions", cfg.Partitions))
	return rt, nil
}

var keyLayout = []byte("meta/partitions")

func checkLayout(ctx context.Context, db *pebblestore.DB, partitions int) error {
	v, err := db.Get(keyLayout)
	switch {
	case errors.Is(err, pebblestore.ErrNotFound):
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(partitions))
		return db.Set(ctx, keyLayout, b[:])
	case err != nil:
		return err
	case len(v) != 4 || int(binary.BigEndian.Uint32(v)) != partitions:
		return fmt.Errorf("%w: stored %x, configured %d", ErrLayoutChanged, v, partitions)
	}
	return nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	switch {
	case r.pebble != nil:
		return r.pebble.Close()
	case r.pg != nil:
		return r.pg.Close()
	}
	return nil
}

// CheckHealth verifies that the backend answers.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	switch {
	case r.pebble != nil:
		return r.pebble.CheckHealth()
	case r.pg != nil:
		return r.pg.CheckHealth(ctx)
	}
	return errors.New("runtime: no backend open")
}

// Backend names the open backend.
func (r *Runtime) Backend() string {
	if r.pg != nil {
		return "postgres"
	}
	return "pebble"
}

func (r *Runtime) Ranges() eventlog.Ranges       { return r.ranges }
func (r *Runtime) Log() eventlog.Log             { return r.log }
func (r *Runtime) Cursors() cursor.Store         { return r.cursors }
func (r *Runtime) Projections() projection.Store { return r.submissions }
func (r *Runtime) DeadLetters() deadletter.Store { return r.deadLetters }
func (r *Runtime) Coordination() coord.Store     { return r.coord }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
