package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const appendChannel = "docflow_append"

const schema = `
CREATE TABLE IF NOT EXISTS docflow_events (
	range_id     INTEGER NOT NULL,
	seq          BIGINT NOT NULL,
	event_id     VARCHAR(255) NOT NULL,
	event_type   VARCHAR(255) NOT NULL,
	submission_id VARCHAR(255) NOT NULL,
	payload      BYTEA NOT NULL,
	appended_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	PRIMARY KEY (range_id, seq)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_docflow_events_event_id ON docflow_events(event_id);

CREATE TABLE IF NOT EXISTS docflow_cursors (
	range_id   VARCHAR(64) PRIMARY KEY,
	token      BYTEA NOT NULL,
	generation BIGINT NOT NULL,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS docflow_submissions (
	submission_id VARCHAR(255) PRIMARY KEY,
	version       BIGINT NOT NULL,
	record        JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS docflow_dead_letters (
	id         VARCHAR(32) COLLATE "C" PRIMARY KEY,
	range_id   VARCHAR(64) NOT NULL,
	seq        BIGINT NOT NULL,
	event_id   VARCHAR(255) NOT NULL DEFAULT '',
	event_type VARCHAR(255) NOT NULL DEFAULT '',
	event      BYTEA NOT NULL,
	error      TEXT NOT NULL,
	attempts   INTEGER NOT NULL,
	failed_at  TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_docflow_dead_letters_range ON docflow_dead_letters(range_id, id);

CREATE TABLE IF NOT EXISTS docflow_lease (
	id            SMALLINT PRIMARY KEY CHECK (id = 1),
	holder        VARCHAR(255) NOT NULL DEFAULT '',
	expires_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT 'epoch',
	fencing_token BIGINT NOT NULL DEFAULT 0
);
INSERT INTO docflow_lease (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS docflow_heartbeats (
	replica_id   VARCHAR(255) PRIMARY KEY,
	last_seen_at TIMESTAMP WITH TIME ZONE NOT NULL,
	status       VARCHAR(32) NOT NULL
);

CREATE TABLE IF NOT EXISTS docflow_assignment (
	id            SMALLINT PRIMARY KEY CHECK (id = 1),
	generation    BIGINT NOT NULL DEFAULT 0,
	fencing_token BIGINT NOT NULL DEFAULT 0,
	owners        JSONB NOT NULL DEFAULT '{}',
	updated_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT 'epoch'
);
INSERT INTO docflow_assignment (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

// Migrate creates the tables and indexes if they don't exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	// Serializes schema creation across replicas starting together.
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext('docflow_schema'))"); err != nil {
		return fmt.Errorf("failed to acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return tx.Commit()
}
