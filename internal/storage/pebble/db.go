package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/docflow/pkg/log"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = pebble.ErrNotFound

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed batch/write.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever never forces a WAL sync from the application.
	FsyncModeNever
)

// ParseFsyncMode maps "always", "interval" and "never" to a FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "always":
		return FsyncModeAlways, nil
	case "interval", "":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	}
	return FsyncModeUnspecified, fmt.Errorf("unknown fsync mode %q", s)
}

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	// Metrics observes read and commit latencies. Optional.
	Metrics MetricsHook
	// Logger receives Pebble's own log lines. Optional.
	Logger log.Logger
}

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRead(time.Duration, int)        {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int) {}

const updateStripes = 64

// DB wraps a Pebble database with an fsync policy and a few helpers used by
// the docflow stores.
type DB struct {
	inner     *pebble.DB
	writeSync bool
	metrics   MetricsHook

	// stripes serialize Update calls that touch the same key.
	stripes [updateStripes]sync.Mutex
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.Logger != nil {
		po.Logger = pebbleLogger{l: opts.Logger.WithComponent("pebble")}
	}

	switch opts.Fsync {
	case FsyncModeAlways, FsyncModeNever:
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &DB{
		inner:     inner,
		writeSync: opts.Fsync == FsyncModeAlways,
		metrics:   metrics,
	}, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// NewBatch creates a new batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits the provided batch with the configured fsync policy.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	size := b.Len()
	defer func() { db.metrics.ObserveBatchCommit(time.Since(start), size) }()

	syncMode := pebble.NoSync
	if db.writeSync {
		syncMode = pebble.Sync
	}
	return b.Commit(syncMode)
}

// Set writes a single key through a batch respecting the fsync policy.
func (db *DB) Set(ctx context.Context, key, value []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return err
	}
	return db.CommitBatch(ctx, b)
}

// Delete removes a single key through a batch respecting the fsync policy.
func (db *DB) Delete(ctx context.Context, key []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return err
	}
	return db.CommitBatch(ctx, b)
}

// Get copies the value for the given key. Missing keys yield ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// Update performs a read-modify-write of key. fn receives the current value
// (nil, false when absent) and returns the value to store; returning a nil
// value deletes the key, returning an error aborts without writing. Updates
// of the same key are serialized within this process; extra batch writes may
// be staged on b and commit atomically with the key.
func (db *DB) Update(ctx context.Context, key []byte, fn func(cur []byte, found bool, b *pebble.Batch) ([]byte, error)) error {
	mu := db.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	cur, err := db.Get(key)
	found := true
	if errors.Is(err, pebble.ErrNotFound) {
		cur, found = nil, false
	} else if err != nil {
		return err
	}

	b := db.inner.NewBatch()
	defer b.Close()
	next, err := fn(cur, found, b)
	if err != nil {
		return err
	}
	if next == nil {
		if found {
			if err := b.Delete(key, nil); err != nil {
				return err
			}
		}
	} else if err := b.Set(key, next, nil); err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	return db.CommitBatch(ctx, b)
}

// Scan visits keys with the given prefix in ascending order until fn returns
// false. Key and value slices are only valid during the callback.
func (db *DB) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: PrefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			break
		}
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// NewIter creates a raw Pebble iterator with the provided options.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}

// CheckHealth performs a cheap read to verify the store is usable.
func (db *DB) CheckHealth() error {
	if db == nil || db.inner == nil {
		return errors.New("pebble: closed")
	}
	_, err := db.Get([]byte("\x00health"))
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return nil
}

func (db *DB) stripe(key []byte) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return &db.stripes[h.Sum32()%updateStripes]
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil if no such key exists.
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

type pebbleLogger struct{ l log.Logger }

func (p pebbleLogger) Infof(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Fatalf(format string, args ...interface{}) {
	p.l.Fatal(fmt.Sprintf(format, args...))
}
