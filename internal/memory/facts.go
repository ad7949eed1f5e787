package memory

import (
	"database/sql"
	"errors"
	"fmt"
)

// RememberFact records learned knowledge about an entity, such as
// "sensor.fish_tank_temp" → "ideal_range" = "24-26°C". A second call
// for the same (entity, key) replaces the value.
func (s *Store) RememberFact(entityID, key, value, source string) error {
	if source == "" {
		source = "user"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO facts (entity_id, fact_key, fact_value, source, learned_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (entity_id, fact_key) DO UPDATE
		 SET fact_value = excluded.fact_value,
		     source = excluded.source,
		     learned_at = excluded.learned_at`,
		entityID, key, value, source, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("remember %s/%s: %w", entityID, key, err)
	}
	return nil
}

// RecallFact returns the value for (entityID, key), or ErrNotFound.
func (s *Store) RecallFact(entityID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(
		`SELECT fact_value FROM facts WHERE entity_id = ? AND fact_key = ?`,
		entityID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("recall %s/%s: %w", entityID, key, err)
	}
	return value, nil
}

// EntityFacts returns every fact recorded for entityID. The map is
// empty, not nil, when nothing is known.
func (s *Store) EntityFacts(entityID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT fact_key, fact_value FROM facts WHERE entity_id = ? ORDER BY fact_key`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("facts for %s: %w", entityID, err)
	}
	defer rows.Close()

	facts := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts[k] = v
	}
	return facts, rows.Err()
}

// DeleteFact removes a single fact. Deleting a missing fact is not an
// error.
func (s *Store) DeleteFact(entityID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`DELETE FROM facts WHERE entity_id = ? AND fact_key = ?`,
		entityID, key,
	); err != nil {
		return fmt.Errorf("delete fact %s/%s: %w", entityID, key, err)
	}
	return nil
}
