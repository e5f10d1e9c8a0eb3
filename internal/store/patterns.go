package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertPattern inserts or replaces a pattern row.
func (s *Store) UpsertPattern(p Pattern) error {
	if len(p.Label) > 80 {
		p.Label = p.Label[:80]
	}
	p.OccurrenceCount = len(p.EntryIDs)

	s.mu.Lock()
	defer s.mu.Unlock()

	idsJSON, err := json.Marshal(nonNil(p.EntryIDs))
	if err != nil {
		return fmt.Errorf("marshal entry ids: %w", err)
	}

	_, err = s.db.Exec(`INSERT OR REPLACE INTO patterns
		(id, label, entry_ids, occurrence_count, first_seen, last_seen, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Label, string(idsJSON), p.OccurrenceCount, p.FirstSeen, p.LastSeen, b2i(p.Resolved))
	return err
}

// UnresolvedPatterns returns every pattern with resolved=false, ordered
// by last_seen descending. Scan order drives first-match-wins merging.
func (s *Store) UnresolvedPatterns() ([]Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, label, entry_ids, occurrence_count,
		first_seen, last_seen, resolved
		FROM patterns WHERE resolved = 0 ORDER BY last_seen DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPatterns(rows)
}

// ActivePatterns returns unresolved patterns with at least 3 occurrences,
// most recently seen first.
func (s *Store) ActivePatterns() ([]Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, label, entry_ids, occurrence_count,
		first_seen, last_seen, resolved
		FROM patterns WHERE resolved = 0 AND occurrence_count >= 3
		ORDER BY last_seen DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPatterns(rows)
}

// ResolvePattern marks a pattern resolved. Reports whether a row changed.
func (s *Store) ResolvePattern(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE patterns SET resolved = 1 WHERE id = ? AND resolved = 0", id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func collectPatterns(rows *sql.Rows) ([]Pattern, error) {
	var out []Pattern
	for rows.Next() {
		var p Pattern
		var idsJSON string
		var resolved int
		if err := rows.Scan(&p.ID, &p.Label, &idsJSON, &p.OccurrenceCount,
			&p.FirstSeen, &p.LastSeen, &resolved); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(idsJSON), &p.EntryIDs); err != nil {
			return nil, fmt.Errorf("corrupt entry_ids on pattern %s: %w", p.ID, err)
		}
		p.Resolved = resolved != 0
		out = append(out, p)
	}
	return out, rows.Err()
}
