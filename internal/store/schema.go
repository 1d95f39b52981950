package store

import "database/sql"

// Schema is the complete watcher schema. Timestamps are unix milliseconds.
const Schema = `
-- Single-row mirror of the in-memory observation record
CREATE TABLE IF NOT EXISTS watch_state (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    last_hash       TEXT NOT NULL DEFAULT '',
    last_state      TEXT NOT NULL DEFAULT 'unknown',
    last_checked_at INTEGER NOT NULL DEFAULT 0,
    streak          INTEGER NOT NULL DEFAULT 0,
    updated_at      INTEGER NOT NULL DEFAULT 0
);

-- Check log (observability)
CREATE TABLE IF NOT EXISTS check_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    status          TEXT NOT NULL,
    hash            TEXT NOT NULL DEFAULT '',
    changed         INTEGER NOT NULL DEFAULT 0,
    notified        INTEGER NOT NULL DEFAULT 0,
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    excerpt         TEXT NOT NULL DEFAULT '',
    checked_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_check_log_time ON check_log(checked_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
