package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is the durable entry store. One process opens one writer;
// cross-process contention rides on WAL plus the 5s busy timeout.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens (or creates) the store at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const entryColumns = `rowid, id, date, time, type, tags, content, source_file,
	tier, access_count, last_accessed, pinned, archived, label, project, session_id, agent_id`

func scanEntry(scan func(...any) error) (Entry, error) {
	var e Entry
	var tagsJSON string
	var pinned, archived int
	err := scan(&e.RowID, &e.ID, &e.Date, &e.Time, &e.Type, &tagsJSON, &e.Content,
		&e.SourceFile, &e.Tier, &e.AccessCount, &e.LastAccessed, &pinned, &archived,
		&e.Label, &e.Project, &e.SessionID, &e.AgentID)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
		return e, fmt.Errorf("corrupt tags on entry %s: %w", e.ID, err)
	}
	e.Pinned = pinned != 0
	e.Archived = archived != 0
	return e, nil
}

// Insert upserts an entry by id and returns the internal row identifier.
// Replacement preserves no lexical or vector state; the caller recomputes
// any needed vector.
func (s *Store) Insert(e Entry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.Tier == "" {
		e.Tier = AssignTier(e.Type, "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tagsJSON, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := deleteEntryTx(tx, e.ID); err != nil {
		return 0, err
	}

	res, err := tx.Exec(`INSERT INTO entries
		(id, date, time, type, tags, content, source_file, tier, access_count,
		 last_accessed, pinned, archived, label, project, session_id, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date, e.Time, e.Type, string(tagsJSON), e.Content, e.SourceFile,
		e.Tier, e.AccessCount, e.LastAccessed, b2i(e.Pinned), b2i(e.Archived),
		e.Label, e.Project, e.SessionID, e.AgentID)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`INSERT INTO entries_fts (content, tags, etype, id) VALUES (?, ?, ?, ?)`,
		e.Content, joinTags(e.Tags), e.Type, e.ID); err != nil {
		return 0, fmt.Errorf("insert fts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rowID, nil
}

// deleteEntryTx removes an entry and its index rows inside tx.
func deleteEntryTx(tx *sql.Tx, id string) error {
	var rowID int64
	err := tx.QueryRow("SELECT rowid FROM entries WHERE id = ?", id).Scan(&rowID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM vectors WHERE entry_rowid = ?", rowID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM entries_fts WHERE id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE rowid = ?", rowID); err != nil {
		return err
	}
	return nil
}

// HasEntry reports whether an entry with the given id exists.
func (s *Store) HasEntry(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow("SELECT 1 FROM entries WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByRowIDs loads entries for the given internal row identifiers.
// Unknown rowids are silently skipped.
func (s *Store) GetByRowIDs(rowIDs []int64) ([]Entry, error) {
	if len(rowIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rowIDs)), ",")
	args := make([]any, len(rowIDs))
	for i, id := range rowIDs {
		args[i] = id
	}

	rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM entries WHERE rowid IN (%s)",
		entryColumns, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

// Get loads a single entry by id.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(fmt.Sprintf("SELECT %s FROM entries WHERE id = ?", entryColumns), id)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// List returns entries ordered newest first.
func (s *Store) List(opts SearchOptions) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := fmt.Sprintf("SELECT %s FROM entries WHERE 1=1", entryColumns)
	var args []any
	if !opts.IncludeArchived {
		q += " AND archived = 0"
	}
	if opts.Type != "" {
		q += " AND type = ?"
		args = append(args, opts.Type)
	}
	if opts.Since != "" {
		q += " AND date >= ?"
		args = append(args, opts.Since)
	}
	q += " ORDER BY date DESC, time DESC"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

// Archive marks entries archived. Pinned rows are skipped. Returns the
// number of rows actually changed, so repeated calls return 0.
func (s *Store) Archive(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.Exec(fmt.Sprintf(
		"UPDATE entries SET archived = 1 WHERE id IN (%s) AND pinned = 0 AND archived = 0",
		placeholders), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// BumpAccess increments access_count and stamps last_accessed for each id.
func (s *Store) BumpAccess(ids []string, today string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{today}
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.Exec(fmt.Sprintf(
		"UPDATE entries SET access_count = access_count + 1, last_accessed = ? WHERE id IN (%s)",
		placeholders), args...)
	return err
}

// SetTier moves entries to a tier. Returns rows changed.
func (s *Store) SetTier(ids []string, tier string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if !validTiers[tier] {
		return 0, fmt.Errorf("%w: unknown tier %q", ErrValidation, tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{tier}
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.Exec(fmt.Sprintf(
		"UPDATE entries SET tier = ? WHERE id IN (%s)", placeholders), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateContentTags rewrites an entry's content and tags in place,
// refreshing the lexical index. Used by consolidation on the survivor.
func (s *Store) UpdateContentTags(id, content string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagsJSON, err := json.Marshal(nonNil(tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var etype string
	if err := tx.QueryRow("SELECT type FROM entries WHERE id = ?", id).Scan(&etype); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	if _, err := tx.Exec("UPDATE entries SET content = ?, tags = ? WHERE id = ?",
		content, string(tagsJSON), id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM entries_fts WHERE id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO entries_fts (content, tags, etype, id) VALUES (?, ?, ?, ?)`,
		content, joinTags(tags), etype, id); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveRule upserts a rule by label: any prior row with the same label is
// deleted, then a fresh pinned longterm entry is inserted. Returns the
// new row identifier.
func (s *Store) SaveRule(e Entry) (int64, error) {
	if e.Type != TypeRule || e.Label == "" {
		return 0, fmt.Errorf("%w: rule requires type=rule and a label", ErrValidation)
	}
	e.Tier = TierLongterm
	e.Pinned = true
	e.Tags = nil
	if err := e.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var prior string
	err = tx.QueryRow("SELECT id FROM entries WHERE type = 'rule' AND label = ?", e.Label).Scan(&prior)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	if prior != "" {
		if err := deleteEntryTx(tx, prior); err != nil {
			return 0, err
		}
	}

	res, err := tx.Exec(`INSERT INTO entries
		(id, date, time, type, tags, content, source_file, tier, access_count,
		 last_accessed, pinned, archived, label, project, session_id, agent_id)
		VALUES (?, ?, ?, 'rule', '[]', ?, ?, 'longterm', 0, '', 1, 0, ?, ?, ?, ?)`,
		e.ID, e.Date, e.Time, e.Content, e.SourceFile, e.Label, e.Project, e.SessionID, e.AgentID)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`INSERT INTO entries_fts (content, tags, etype, id) VALUES (?, '', 'rule', ?)`,
		e.Content, e.ID); err != nil {
		return 0, fmt.Errorf("insert fts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rowID, nil
}

// DeleteRule removes a rule by label. Reports whether a row was deleted.
func (s *Store) DeleteRule(label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow("SELECT id FROM entries WHERE type = 'rule' AND label = ?", label).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := deleteEntryTx(tx, id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ListRules returns all rules ordered by label.
func (s *Store) ListRules() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT %s FROM entries WHERE type = 'rule' ORDER BY label", entryColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

// ListBySession returns the entries stamped with a session id.
func (s *Store) ListBySession(sessionID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT %s FROM entries WHERE session_id = ? ORDER BY date DESC, time DESC",
		entryColumns), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

// FindByTag returns non-archived entries carrying the exact tag.
func (s *Store) FindByTag(tag string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern, err := tagLikePattern(tag)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT %s FROM entries WHERE archived = 0 AND tags LIKE ? ESCAPE '\'
		 ORDER BY date DESC, time DESC`, entryColumns), pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	// LIKE over the JSON text can overmatch on embedded quotes; confirm
	// against the decoded tag list.
	var out []Entry
	for _, e := range entries {
		for _, t := range e.Tags {
			if t == tag {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

// HasEntryWithTag reports whether any non-archived entry carries the tag.
func (s *Store) HasEntryWithTag(tag string) (bool, error) {
	entries, err := s.FindByTag(tag)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// Status summarises the store.
func (s *Store) Status() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{TierDistribution: make(map[string]int)}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&st.Total); err != nil {
		return st, err
	}
	if st.Total > 0 {
		if err := s.db.QueryRow("SELECT MIN(date), MAX(date) FROM entries").
			Scan(&st.DateRange[0], &st.DateRange[1]); err != nil {
			return st, err
		}
	}

	rows, err := s.db.Query("SELECT tier, COUNT(*) FROM entries GROUP BY tier")
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.TierDistribution[tier] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries WHERE archived = 1").
		Scan(&st.ArchivedCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM patterns WHERE resolved = 0 AND occurrence_count >= 3").
		Scan(&st.ActivePatterns); err != nil {
		return st, err
	}

	if fi, err := os.Stat(s.path); err == nil {
		st.StorageBytes = fi.Size()
	}
	return st, nil
}

// ClearAll wipes entries, vectors, patterns and file pairs. The schema
// survives. Administrative and test use only.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"entries_fts", "vectors", "entries", "patterns", "file_pairs"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// tagLikePattern builds a LIKE pattern matching the JSON-encoded tag.
func tagLikePattern(tag string) (string, error) {
	enc, err := json.Marshal(tag)
	if err != nil {
		return "", err
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(string(enc))
	return "%" + escaped + "%", nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
