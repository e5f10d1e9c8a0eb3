package store

import (
	"database/sql"
	"fmt"
)

// Base schema. Late-introduced columns are handled additively below so a
// v0 database (entries without lifecycle columns) upgrades in place.
var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		type TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		content TEXT NOT NULL,
		source_file TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(type)`,
	// FTS5 lexical index over (content, tags, type), kept in lockstep
	// with the entries table inside each mutating transaction.
	`CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
		content,
		tags,
		etype,
		id UNINDEXED,
		tokenize='porter unicode61'
	)`,
	// Dense vectors keyed by the entries rowid, one unit-norm f32[384]
	// per row, little-endian blob.
	`CREATE TABLE IF NOT EXISTS vectors (
		entry_rowid INTEGER PRIMARY KEY,
		vec BLOB NOT NULL
	)`,
}

// lateColumns are the lifecycle columns added after the original schema
// shipped. Detection is by PRAGMA table_info; creation is additive and
// idempotent.
var lateColumns = []struct {
	name string
	ddl  string
}{
	{"tier", `ALTER TABLE entries ADD COLUMN tier TEXT NOT NULL DEFAULT ''`},
	{"access_count", `ALTER TABLE entries ADD COLUMN access_count INTEGER NOT NULL DEFAULT 0`},
	{"last_accessed", `ALTER TABLE entries ADD COLUMN last_accessed TEXT NOT NULL DEFAULT ''`},
	{"pinned", `ALTER TABLE entries ADD COLUMN pinned INTEGER NOT NULL DEFAULT 0`},
	{"archived", `ALTER TABLE entries ADD COLUMN archived INTEGER NOT NULL DEFAULT 0`},
	{"label", `ALTER TABLE entries ADD COLUMN label TEXT NOT NULL DEFAULT ''`},
	{"project", `ALTER TABLE entries ADD COLUMN project TEXT NOT NULL DEFAULT ''`},
	{"session_id", `ALTER TABLE entries ADD COLUMN session_id TEXT NOT NULL DEFAULT ''`},
	{"agent_id", `ALTER TABLE entries ADD COLUMN agent_id TEXT NOT NULL DEFAULT ''`},
}

var lateTables = []string{
	`CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		entry_ids TEXT NOT NULL DEFAULT '[]',
		occurrence_count INTEGER NOT NULL DEFAULT 0,
		first_seen TEXT NOT NULL DEFAULT '',
		last_seen TEXT NOT NULL DEFAULT '',
		resolved INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS file_pairs (
		project TEXT NOT NULL,
		file_a TEXT NOT NULL,
		file_b TEXT NOT NULL,
		co_change_count INTEGER NOT NULL DEFAULT 0,
		last_seen TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (project, file_a, file_b)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_rule_label
		ON entries(label) WHERE type = 'rule' AND label != ''`,
}

func (s *Store) migrate() error {
	for _, stmt := range baseSchema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}

	existing, err := s.columnSet("entries")
	if err != nil {
		return err
	}
	for _, col := range lateColumns {
		if existing[col.name] {
			continue
		}
		if _, err := s.db.Exec(col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}

	for _, stmt := range lateTables {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}

	return s.backfillTiers()
}

// backfillTiers assigns tiers to rows that predate the tier column.
// Idempotent: only rows with an empty tier are touched.
func (s *Store) backfillTiers() error {
	stmts := []string{
		`UPDATE entries SET tier = 'ephemeral' WHERE tier = '' AND type IN ('handoff','progress')`,
		`UPDATE entries SET tier = 'longterm' WHERE tier = '' AND type IN ('reference','rule')`,
		`UPDATE entries SET tier = 'working' WHERE tier = ''`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("backfill tier: %w", err)
		}
	}
	return nil
}

func (s *Store) columnSet(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
