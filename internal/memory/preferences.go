package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Preference is a single remembered user preference. Value holds the
// decoded JSON value (string, float64, bool, []any, map[string]any).
type Preference struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetPreference stores value under key, replacing any previous value.
func (s *Store) SetPreference(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	s.logger.Debug("preference saved", "key", key)
	return nil
}

// Preference returns the decoded value stored under key. The boolean
// is false when the key is absent.
func (s *Store) Preference(key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get preference %s: %w", key, err)
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("decode preference %s: %w", key, err)
	}
	return v, true, nil
}

// PreferenceString returns the value under key rendered as text, or
// def when the key is absent or unreadable.
func (s *Store) PreferenceString(key, def string) string {
	v, ok, err := s.Preference(key)
	if err != nil || !ok || v == nil {
		return def
	}
	return FormatValue(v)
}

// Preferences returns every stored preference ordered by key.
func (s *Store) Preferences() ([]Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key, value, updated_at FROM preferences ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var (
			p       Preference
			raw     string
			updated int64
		)
		if err := rows.Scan(&p.Key, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &p.Value); err != nil {
			s.logger.Warn("skipping undecodable preference", "key", p.Key, "error", err)
			continue
		}
		p.UpdatedAt = time.UnixMilli(updated).UTC()
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// DeletePreference removes key. The boolean reports whether a row was
// deleted.
func (s *Store) DeletePreference(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM preferences WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete preference %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FormatValue renders a decoded preference value as plain text.
// Strings are returned unquoted; everything else as compact JSON.
func FormatValue(v any) string {
	if str, ok := v.(string); ok {
		return str
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
