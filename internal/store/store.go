// Package store persists the observation record and a check log in SQLite.
//
// The record is a single row (id=1) mirrored after every check; the log is
// append-only observability so an operator can see what recent checks saw.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/taskwatch/internal/classify"
	"github.com/hazyhaar/taskwatch/internal/watch"

	_ "modernc.org/sqlite"
)

// Store wraps the watcher database.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the SQLite database at path, applies the
// production pragmas and the schema. Parent directories are created.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// Pragmas via Exec so they work on any database/sql sqlite driver.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db, log: logger}, nil
}

// NewWithDB wraps an already-opened database. The schema must be applied by
// the caller. Used by tests.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted record, or the zero record when none exists or
// the row cannot be read. A corrupt state file must never stop the watcher,
// so Load never returns an error; failures are logged and forgotten.
func (s *Store) Load(ctx context.Context) watch.Record {
	var (
		rec   watch.Record
		state string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_hash, last_state, last_checked_at, streak FROM watch_state WHERE id = 1`,
	).Scan(&rec.LastHash, &state, &rec.LastCheckedAt, &rec.Streak)
	if err != nil {
		if err != sql.ErrNoRows {
			s.log.Warn("store: load state failed, using zero record", "error", err)
		}
		return watch.ZeroRecord()
	}

	rec.LastState = classify.State(state)
	if !rec.LastState.Valid() || rec.Streak < 0 || rec.LastCheckedAt < 0 {
		s.log.Warn("store: persisted state invalid, using zero record",
			"state", state, "streak", rec.Streak)
		return watch.ZeroRecord()
	}
	return rec
}

// Save upserts the single state row.
func (s *Store) Save(ctx context.Context, rec watch.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_state (id, last_hash, last_state, last_checked_at, streak, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_hash       = excluded.last_hash,
			last_state      = excluded.last_state,
			last_checked_at = excluded.last_checked_at,
			streak          = excluded.streak,
			updated_at      = excluded.updated_at`,
		rec.LastHash, string(rec.LastState), rec.LastCheckedAt, rec.Streak,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	return nil
}

// Reset replaces the record with its zero value and persists it.
func (s *Store) Reset(ctx context.Context) (watch.Record, error) {
	rec := watch.ZeroRecord()
	if err := s.Save(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// LogEntry is one row of the check log.
type LogEntry struct {
	ID         int64          `json:"id"`
	Status     classify.State `json:"status"`
	Hash       string         `json:"hash,omitempty"`
	Changed    bool           `json:"changed"`
	Notified   bool           `json:"notified"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Excerpt    string         `json:"excerpt,omitempty"`
	CheckedAt  int64          `json:"checked_at"`
}

// AppendLog records one completed check. Best-effort: a log write failure
// is logged, never surfaced into the pipeline.
func (s *Store) AppendLog(ctx context.Context, e LogEntry) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_log (status, hash, changed, notified, duration_ms, error_message, excerpt, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Status), e.Hash, boolInt(e.Changed), boolInt(e.Notified),
		e.DurationMS, e.Error, e.Excerpt, e.CheckedAt,
	)
	if err != nil {
		s.log.Warn("store: append check log", "error", err)
	}
}

// RecentLog returns the most recent log entries, newest first.
func (s *Store) RecentLog(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, hash, changed, notified, duration_ms, error_message, excerpt, checked_at
		FROM check_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e                 LogEntry
			status            string
			changed, notified int
		)
		if err := rows.Scan(&e.ID, &status, &e.Hash, &changed, &notified,
			&e.DurationMS, &e.Error, &e.Excerpt, &e.CheckedAt); err != nil {
			return nil, fmt.Errorf("store: scan log row: %w", err)
		}
		e.Status = classify.State(status)
		e.Changed = changed != 0
		e.Notified = notified != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneLog deletes log entries older than keep. Returns rows removed.
func (s *Store) PruneLog(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM check_log WHERE checked_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
