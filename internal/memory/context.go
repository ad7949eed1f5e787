package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ContextEntry is one logged exchange.
type ContextEntry struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	IsError   bool      `json:"is_error"`
	Timestamp time.Time `json:"timestamp"`
}

// SaveContext appends an exchange to the log and then prunes entries
// older than the retention window. Both happen under the write lock.
func (s *Store) SaveContext(userInput, response string, isError bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, err := s.db.Exec(
		`INSERT INTO context (user_input, assistant_response, is_error, created_at)
		 VALUES (?, ?, ?, ?)`,
		userInput, response, boolToInt(isError), now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("save context: %w", err)
	}

	if _, err := s.pruneLocked(now); err != nil {
		return err
	}
	return nil
}

// RecentContext returns up to limit of the newest entries, ordered
// oldest to newest. Error-flagged entries are excluded unless
// includeErrors is set.
func (s *Store) RecentContext(limit int, includeErrors bool) ([]ContextEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, user_input, assistant_response, is_error, created_at FROM context`
	if !includeErrors {
		query += ` WHERE is_error = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("recent context: %w", err)
	}
	defer rows.Close()

	var entries []ContextEntry
	for rows.Next() {
		var (
			e       ContextEntry
			isErr   int
			created int64
		)
		if err := rows.Scan(&e.ID, &e.User, &e.Assistant, &isErr, &created); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		e.IsError = isErr != 0
		e.Timestamp = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Prune deletes context entries older than the retention window and
// returns how many were removed. SaveContext already prunes; this is
// for the scheduled maintenance job.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(s.now())
}

func (s *Store) pruneLocked(now time.Time) (int64, error) {
	cutoff := now.Add(-s.retention).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM context WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune context: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("pruned old context entries", "removed", n)
	}
	return n, nil
}

// Interaction is the last device acted on within a context type.
type Interaction struct {
	ContextType string    `json:"context_type"`
	EntityID    string    `json:"entity_id"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
}

// SaveLastInteraction replaces the remembered entity for contextType.
func (s *Store) SaveLastInteraction(contextType, entityID, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO last_interaction (context_type, entity_id, action, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (context_type) DO UPDATE
		 SET entity_id = excluded.entity_id,
		     action = excluded.action,
		     updated_at = excluded.updated_at`,
		contextType, entityID, action, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save last interaction %s: %w", contextType, err)
	}
	return nil
}

// LastInteraction returns the remembered entity for contextType, or
// ErrNotFound.
func (s *Store) LastInteraction(contextType string) (Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in := Interaction{ContextType: contextType}
	var updated int64
	err := s.db.QueryRow(
		`SELECT entity_id, action, updated_at FROM last_interaction WHERE context_type = ?`,
		contextType,
	).Scan(&in.EntityID, &in.Action, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	if err != nil {
		return Interaction{}, fmt.Errorf("last interaction %s: %w", contextType, err)
	}
	in.Timestamp = time.UnixMilli(updated).UTC()
	return in, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
