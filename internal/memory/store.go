// Package memory is Jarvis's persistent memory: user preferences,
// learned facts about entities, a rolling log of recent exchanges, and
// the last device touched per context type.
//
// Memory never holds live device state. A temperature or an on/off
// value read from Home Assistant goes stale within minutes and would
// mislead the assistant on the next turn; tools always query the
// device directory for state instead.
package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultRetention is how long context entries are kept.
const DefaultRetention = 7 * 24 * time.Hour

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed memory store. It is shared by every
// conversation and front end in the process. Reads run concurrently;
// writes are serialized by an internal lock so a save-then-prune pair
// is never interleaved with another writer.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	retention time.Duration
	logger    *slog.Logger
	nowFunc   func() time.Time
}

// NewStore opens (or creates) the memory database at dbPath. A fresh
// file is a valid empty store.
func NewStore(dbPath string, retention time.Duration, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewStoreWithDB(db, retention, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB wraps an existing database handle. The schema is
// created if missing. Zero retention selects [DefaultRetention].
func NewStoreWithDB(db *sql.DB, retention time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Store{
		db:        db,
		retention: retention,
		logger:    logger,
		nowFunc:   time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Retention returns the context retention window.
func (s *Store) Retention() time.Duration {
	return s.retention
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS facts (
		entity_id  TEXT NOT NULL,
		fact_key   TEXT NOT NULL,
		fact_value TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT 'user',
		learned_at INTEGER NOT NULL,
		PRIMARY KEY (entity_id, fact_key)
	);

	CREATE TABLE IF NOT EXISTS context (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		user_input         TEXT NOT NULL,
		assistant_response TEXT NOT NULL,
		is_error           INTEGER NOT NULL DEFAULT 0,
		created_at         INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_context_created ON context(created_at);

	CREATE TABLE IF NOT EXISTS last_interaction (
		context_type TEXT PRIMARY KEY,
		entity_id    TEXT NOT NULL,
		action       TEXT NOT NULL,
		updated_at   INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) now() time.Time {
	return s.nowFunc().UTC()
}

// Stats holds row counts per table.
type Stats struct {
	Preferences      int `json:"preferences"`
	Facts            int `json:"facts"`
	ContextEntries   int `json:"context_entries"`
	LastInteractions int `json:"last_interactions"`
}

// Stats returns row counts for every table.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"preferences", &st.Preferences},
		{"facts", &st.Facts},
		{"context", &st.ContextEntries},
		{"last_interaction", &st.LastInteractions},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return st, nil
}

// ClearAll deletes every row in every table. It is an explicit
// operator action and is not reachable from conversation tools.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"preferences", "facts", "context", "last_interaction"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Warn("all memory cleared")
	return nil
}
