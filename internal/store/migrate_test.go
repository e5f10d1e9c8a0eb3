package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// openV0 creates a database with the original schema: entries without
// lifecycle columns, no pattern or file-pair tables.
func openV0(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open v0: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE entries (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			type TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			content TEXT NOT NULL,
			source_file TEXT NOT NULL DEFAULT ''
		)`,
		`INSERT INTO entries VALUES ('h1', '2025-11-01', '10:00', 'handoff', '[]', 'old handoff', '')`,
		`INSERT INTO entries VALUES ('r1', '2025-11-02', '11:00', 'reference', '["docs"]', 'old reference', '')`,
		`INSERT INTO entries VALUES ('d1', '2025-11-03', '12:00', 'decision', '[]', 'old decision', '')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("v0 exec: %v", err)
		}
	}
}

func TestMigrationFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store")
	openV0(t, path)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open migrates: %v", err)
	}

	entries, err := s.List(SearchOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("lost entries: %d, want 3", len(entries))
	}

	wantTier := map[string]string{
		"h1": TierEphemeral,
		"r1": TierLongterm,
		"d1": TierWorking,
	}
	for _, e := range entries {
		if e.Tier != wantTier[e.ID] {
			t.Errorf("entry %s tier = %s, want %s", e.ID, e.Tier, wantTier[e.ID])
		}
		if e.Archived || e.Pinned || e.AccessCount != 0 {
			t.Errorf("entry %s has unexpected lifecycle state: %+v", e.ID, e)
		}
	}
	s.Close()

	// Re-opening must be a no-op: same rows, same tiers.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	again, _ := s2.List(SearchOptions{})
	if len(again) != 3 {
		t.Errorf("idempotence lost entries: %d", len(again))
	}
	for _, e := range again {
		if e.Tier != wantTier[e.ID] {
			t.Errorf("after re-open, entry %s tier = %s", e.ID, e.Tier)
		}
	}

	// Late tables exist and work after migration.
	if err := s2.UpsertFilePair("proj", "a.go", "b.go", "2026-02-20"); err != nil {
		t.Errorf("file_pairs missing after migration: %v", err)
	}
	if _, err := s2.ActivePatterns(); err != nil {
		t.Errorf("patterns missing after migration: %v", err)
	}
}

func TestFilePairs(t *testing.T) {
	s := openTestStore(t)

	s.UpsertFilePair("proj", "a.go", "b.go", "2026-02-18")
	s.UpsertFilePair("proj", "a.go", "b.go", "2026-02-19")
	s.UpsertFilePair("proj", "a.go", "c.go", "2026-02-20")
	s.UpsertFilePair("other", "a.go", "d.go", "2026-02-20")

	pairs, err := s.GetCochanges("proj", "a.go", 10)
	if err != nil {
		t.Fatalf("GetCochanges: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(pairs))
	}
	if pairs[0].FileB != "b.go" || pairs[0].CoChangeCount != 2 {
		t.Errorf("top pair = %+v", pairs[0])
	}
	if pairs[0].LastSeen != "2026-02-19" {
		t.Errorf("last seen = %s", pairs[0].LastSeen)
	}

	// Either side of the stored pair matches.
	pairs, _ = s.GetCochanges("proj", "b.go", 10)
	if len(pairs) != 1 || pairs[0].FileA != "a.go" {
		t.Errorf("reverse lookup = %+v", pairs)
	}
}
