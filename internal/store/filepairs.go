package store

// UpsertFilePair increments the co-change count for an observed pair, or
// inserts it with count 1. The pair is stored in the order observed.
func (s *Store) UpsertFilePair(project, fileA, fileB, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO file_pairs (project, file_a, file_b, co_change_count, last_seen)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(project, file_a, file_b)
		DO UPDATE SET co_change_count = co_change_count + 1, last_seen = excluded.last_seen`,
		project, fileA, fileB, date)
	return err
}

// GetCochanges returns files observed changing together with the given
// file, ordered by co-change count descending. Either side of the stored
// pair may match.
func (s *Store) GetCochanges(project, file string, limit int) ([]FilePair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`SELECT project, file_a, file_b, co_change_count, last_seen
		FROM file_pairs
		WHERE project = ? AND (file_a = ? OR file_b = ?)
		ORDER BY co_change_count DESC, last_seen DESC
		LIMIT ?`, project, file, file, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FilePair
	for rows.Next() {
		var fp FilePair
		if err := rows.Scan(&fp.Project, &fp.FileA, &fp.FileB, &fp.CoChangeCount, &fp.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}
