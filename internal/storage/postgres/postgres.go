package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver

	"github.com/rzbill/docflow/internal/eventlog"
	"github.com/rzbill/docflow/pkg/log"
)

// Config configures the PostgreSQL backend.
type Config struct {
	DSN string
	// MaxOpenConns caps the connection pool. Zero keeps the driver default.
	MaxOpenConns int
	// ListenReconnect bounds the LISTEN connection's reconnect backoff.
	ListenReconnect time.Duration
}

// DB is an open PostgreSQL backend.
type DB struct {
	sql      *sql.DB
	ranges   eventlog.Ranges
	notifier *notifier
	logger   log.Logger
}

// Open connects, applies the schema and starts listening for appends.
func Open(ctx context.Context, cfg Config, ranges eventlog.Ranges, logger log.Logger) (*DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: DSN is required")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.WithComponent("postgres")

	sqlDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	reconnect := cfg.ListenReconnect
	if reconnect <= 0 {
		reconnect = time.Minute
	}
	n, err := newNotifier(cfg.DSN, reconnect, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &DB{sql: sqlDB, ranges: ranges, notifier: n, logger: logger}, nil
}

// Close stops the listener and closes the pool.
func (db *DB) Close() error {
	nerr := db.notifier.close()
	if err := db.sql.Close(); err != nil {
		return err
	}
	return nerr
}

// CheckHealth pings the database.
func (db *DB) CheckHealth(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// SQL exposes the pool for tests and tooling.
func (db *DB) SQL() *sql.DB { return db.sql }

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
