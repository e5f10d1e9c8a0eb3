package store

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func unitVec(axis int) []float32 {
	v := make([]float32, VectorDim)
	v[axis] = 1
	return v
}

func testEntry(id, date, etype, content string) Entry {
	return Entry{
		ID:      id,
		Date:    date,
		Time:    "12:00",
		Type:    etype,
		Tags:    []string{"test"},
		Content: content,
		Tier:    AssignTier(etype, ""),
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openTestStore(t)

	e := testEntry("abc123", "2026-02-20", TypeDecision, "PostgreSQL chosen for JSON support")
	rowID, err := s.Insert(e)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if rowID == 0 {
		t.Fatal("rowID = 0")
	}

	got, err := s.Get("abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != e.Content || got.Type != TypeDecision || got.Tier != TierWorking {
		t.Errorf("got = %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "test" {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestInsertReplacesByID(t *testing.T) {
	s := openTestStore(t)

	e := testEntry("dup1", "2026-02-20", TypeInsight, "first version")
	rowID, err := s.Insert(e)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.InsertVec(rowID, unitVec(0)); err != nil {
		t.Fatalf("InsertVec: %v", err)
	}

	e.Content = "second version"
	rowID2, err := s.Insert(e)
	if err != nil {
		t.Fatalf("Insert replace: %v", err)
	}
	if byRow, _ := s.GetByRowIDs([]int64{rowID2}); len(byRow) != 1 || byRow[0].Content != "second version" {
		t.Error("returned rowid does not address the replacement row")
	}

	// The old vector must be gone with the old row.
	if v, _ := s.GetVec(rowID); v != nil {
		t.Error("old vector survived replacement")
	}

	got, _ := s.Get("dup1")
	if got.Content != "second version" {
		t.Errorf("content = %q", got.Content)
	}

	// Lexical index follows the replacement.
	hits, err := s.SearchLexical("first", SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("stale fts row matched: %d hits", len(hits))
	}
}

func TestSearchLexical(t *testing.T) {
	s := openTestStore(t)

	s.Insert(testEntry("a1", "2026-02-20", TypeDecision, "PostgreSQL chosen for JSON support"))
	s.Insert(testEntry("b1", "2026-02-20", TypeIssue, "Authentication tokens expire too quickly"))

	hits, err := s.SearchLexical("PostgreSQL", SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a1" {
		t.Fatalf("hits = %+v", hits)
	}

	// Empty and punctuation-only queries return nothing, never error.
	for _, q := range []string{"", "   ", `"((`} {
		if _, err := s.SearchLexical(q, SearchOptions{Limit: 10}); err != nil {
			t.Errorf("query %q: %v", q, err)
		}
	}
}

func TestSearchLexicalExcludesArchived(t *testing.T) {
	s := openTestStore(t)

	s.Insert(testEntry("a1", "2026-02-20", TypeIssue, "flaky websocket test"))
	s.Insert(testEntry("a2", "2026-02-20", TypeIssue, "flaky integration test"))
	if _, err := s.Archive([]string{"a2"}); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	hits, _ := s.SearchLexical("flaky", SearchOptions{Limit: 10})
	for _, h := range hits {
		if h.Archived {
			t.Errorf("archived entry %s returned", h.ID)
		}
	}
	if len(hits) != 1 {
		t.Errorf("hits = %d, want 1", len(hits))
	}

	hits, _ = s.SearchLexical("flaky", SearchOptions{Limit: 10, IncludeArchived: true})
	if len(hits) != 2 {
		t.Errorf("with archived: hits = %d, want 2", len(hits))
	}
}

func TestSearchVec(t *testing.T) {
	s := openTestStore(t)

	r1, _ := s.Insert(testEntry("v1", "2026-02-20", TypeIssue, "one"))
	r2, _ := s.Insert(testEntry("v2", "2026-02-20", TypeIssue, "two"))
	s.InsertVec(r1, unitVec(0))
	s.InsertVec(r2, unitVec(1))

	hits, err := s.SearchVec(unitVec(0), 10)
	if err != nil {
		t.Fatalf("SearchVec: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].RowID != r1 || hits[0].Distance > 1e-6 {
		t.Errorf("nearest = %+v, want rowid %d at distance 0", hits[0], r1)
	}
	if hits[1].Distance < 1.0 {
		t.Errorf("orthogonal distance = %f, want sqrt(2)", hits[1].Distance)
	}
}

func TestArchiveIdempotentAndPinned(t *testing.T) {
	s := openTestStore(t)

	s.Insert(testEntry("x1", "2026-02-20", TypeProgress, "one"))
	pinned := testEntry("x2", "2026-02-20", TypeProgress, "two")
	pinned.Pinned = true
	s.Insert(pinned)

	n, err := s.Archive([]string{"x1", "x2"})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if n != 1 {
		t.Errorf("first archive changed %d rows, want 1", n)
	}

	n, _ = s.Archive([]string{"x1", "x2"})
	if n != 0 {
		t.Errorf("second archive changed %d rows, want 0", n)
	}

	got, _ := s.Get("x2")
	if got.Archived {
		t.Error("pinned entry was archived")
	}
}

func TestBumpAccess(t *testing.T) {
	s := openTestStore(t)

	s.Insert(testEntry("b1", "2026-02-20", TypeInsight, "bump me"))
	if err := s.BumpAccess([]string{"b1"}, "2026-02-21"); err != nil {
		t.Fatalf("BumpAccess: %v", err)
	}
	got, _ := s.Get("b1")
	if got.AccessCount != 1 || got.LastAccessed != "2026-02-21" {
		t.Errorf("after bump: count=%d last=%q", got.AccessCount, got.LastAccessed)
	}
}

func TestSaveRuleUpsertsByLabel(t *testing.T) {
	s := openTestStore(t)

	mk := func(id, content string) Entry {
		return Entry{ID: id, Date: "2026-02-20", Time: "09:00", Type: TypeRule,
			Label: "tests-first", Content: content}
	}
	if _, err := s.SaveRule(mk("r1", "c1")); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}
	if _, err := s.SaveRule(mk("r2", "c2")); err != nil {
		t.Fatalf("SaveRule upsert: %v", err)
	}

	rules, err := s.ListRules()
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1", len(rules))
	}
	r := rules[0]
	if r.Label != "tests-first" || r.Content != "c2" {
		t.Errorf("rule = %+v", r)
	}
	if r.Tier != TierLongterm || !r.Pinned {
		t.Errorf("rule tier=%s pinned=%v", r.Tier, r.Pinned)
	}

	deleted, err := s.DeleteRule("tests-first")
	if err != nil || !deleted {
		t.Fatalf("DeleteRule = %v, %v", deleted, err)
	}
	if deleted, _ := s.DeleteRule("tests-first"); deleted {
		t.Error("second delete reported a change")
	}
}

func TestFindByTag(t *testing.T) {
	s := openTestStore(t)

	e := testEntry("t1", "2026-02-20", TypeInsight, "tagged")
	e.Tags = []string{"pending_rule", "anchor:rule"}
	s.Insert(e)
	s.Insert(testEntry("t2", "2026-02-20", TypeInsight, "untagged"))

	got, err := s.FindByTag("pending_rule")
	if err != nil {
		t.Fatalf("FindByTag: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("got = %+v", got)
	}

	ok, _ := s.HasEntryWithTag("anchor:rule")
	if !ok {
		t.Error("HasEntryWithTag = false")
	}
	ok, _ = s.HasEntryWithTag("missing")
	if ok {
		t.Error("HasEntryWithTag(missing) = true")
	}
}

func TestListOrdering(t *testing.T) {
	s := openTestStore(t)

	s.Insert(testEntry("o1", "2026-02-18", TypeInsight, "oldest"))
	s.Insert(testEntry("o2", "2026-02-20", TypeInsight, "newest"))
	e := testEntry("o3", "2026-02-19", TypeInsight, "middle")
	e.Time = "23:59"
	s.Insert(e)

	got, err := s.List(SearchOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"o2", "o3", "o1"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}

	got, _ = s.List(SearchOptions{Since: "2026-02-19"})
	if len(got) != 2 {
		t.Errorf("since filter: %d entries, want 2", len(got))
	}
}

func TestStatusAndClearAll(t *testing.T) {
	s := openTestStore(t)

	r1, _ := s.Insert(testEntry("s1", "2026-02-19", TypeDecision, "one"))
	s.Insert(testEntry("s2", "2026-02-20", TypeProgress, "two"))
	s.InsertVec(r1, unitVec(0))
	s.Archive([]string{"s2"})

	st, err := s.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Total != 2 || st.ArchivedCount != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.DateRange[0] != "2026-02-19" || st.DateRange[1] != "2026-02-20" {
		t.Errorf("date range = %v", st.DateRange)
	}
	if st.TierDistribution[TierWorking] != 1 || st.TierDistribution[TierEphemeral] != 1 {
		t.Errorf("tiers = %v", st.TierDistribution)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	st, _ = s.Status()
	if st.Total != 0 {
		t.Errorf("after clear: total = %d", st.Total)
	}
	if hits, _ := s.SearchVec(unitVec(0), 10); len(hits) != 0 {
		t.Errorf("vectors survived clear: %d", len(hits))
	}
}

func TestValidation(t *testing.T) {
	s := openTestStore(t)

	cases := []Entry{
		{ID: "", Date: "2026-02-20", Time: "12:00", Type: TypeIssue, Content: "x"},
		{ID: "q1", Date: "2026-02-20", Time: "12:00", Type: "bogus", Content: "x"},
		{ID: "q2", Date: "2026-02-20", Time: "12:00", Type: TypeIssue, Tier: "forever", Content: "x"},
		{ID: "q3", Date: "2026-02-20", Time: "12:00", Type: TypeIssue, Content: strings.Repeat("x", MaxContentBytes+1)},
	}
	for i, e := range cases {
		if _, err := s.Insert(e); err == nil {
			t.Errorf("case %d: Insert accepted invalid entry", i)
		}
	}
}

func TestAssignTier(t *testing.T) {
	cases := []struct {
		etype, explicit, want string
	}{
		{TypeHandoff, "", TierEphemeral},
		{TypeProgress, "", TierEphemeral},
		{TypeReference, "", TierLongterm},
		{TypeRule, "", TierLongterm},
		{TypeDecision, "", TierWorking},
		{TypeIssue, TierLongterm, TierLongterm},
	}
	for _, c := range cases {
		if got := AssignTier(c.etype, c.explicit); got != c.want {
			t.Errorf("AssignTier(%s, %q) = %s, want %s", c.etype, c.explicit, got, c.want)
		}
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
