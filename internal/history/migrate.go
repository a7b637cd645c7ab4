package history

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 2

const schema = `
CREATE TABLE schema_version (version INTEGER NOT NULL);

CREATE TABLE runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	total       INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	errored     INTEGER NOT NULL,
	attempts    INTEGER NOT NULL,
	retries     INTEGER NOT NULL,
	duration_ms REAL NOT NULL
);

CREATE TABLE outcomes (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	batch      TEXT NOT NULL,
	spec_id    TEXT NOT NULL,
	verdict    TEXT NOT NULL,
	attempts   INTEGER NOT NULL,
	status     INTEGER,
	elapsed_ms REAL,
	error_kind TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX idx_runs_started_at ON runs(started_at DESC);
`

type migration struct {
	version int
	sql     string
}

// migrations upgrade a database stamped with the base schema (version 1).
var migrations = []migration{
	{version: 2, sql: `
ALTER TABLE runs ADD COLUMN p95_ms REAL NOT NULL DEFAULT 0;
CREATE INDEX idx_outcomes_spec ON outcomes(spec_id);
`},
}

func migrate(db *sql.DB) error {
	var hasSchemaTbl int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&hasSchemaTbl); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if hasSchemaTbl == 0 {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("apply base schema: %w", err)
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration v%d begin: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d version update: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration v%d commit: %w", m.version, err)
		}
		current = m.version
	}

	if current != schemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", current, schemaVersion)
	}
	return nil
}
