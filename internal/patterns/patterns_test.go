package patterns

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/rank"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

var today = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

func testTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	clk := clock.Fixed(today)
	return New(s, rank.New(s, clk), clk), s
}

func unitVec(axis int) []float32 {
	v := make([]float32, store.VectorDim)
	v[axis] = 1
	return v
}

func saveIssue(t *testing.T, s *store.Store, tr *Tracker, id, date string, v []float32) string {
	t.Helper()
	e := store.Entry{
		ID: id, Date: date, Time: "10:00", Type: store.TypeIssue,
		Tier: store.TierWorking, Content: "Memory leak in WebSocket handler",
	}
	rowID, err := s.Insert(e)
	if err != nil {
		t.Fatalf("Insert %s: %v", id, err)
	}
	if err := s.InsertVec(rowID, v); err != nil {
		t.Fatalf("InsertVec %s: %v", id, err)
	}
	patternID, err := tr.DetectOnIssue(e, v)
	if err != nil {
		t.Fatalf("DetectOnIssue %s: %v", id, err)
	}
	return patternID
}

func TestPatternEmergesOnThirdOccurrence(t *testing.T) {
	tr, s := testTracker(t)

	if pid := saveIssue(t, s, tr, "i1", "2026-02-18", unitVec(0)); pid != "" {
		t.Errorf("first issue created pattern %s", pid)
	}
	if pid := saveIssue(t, s, tr, "i2", "2026-02-19", unitVec(0)); pid != "" {
		t.Errorf("second issue created pattern %s", pid)
	}
	pid := saveIssue(t, s, tr, "i3", "2026-02-20", unitVec(0))
	if pid == "" {
		t.Fatal("third issue produced no pattern")
	}

	active, err := tr.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	p := active[0]
	if p.OccurrenceCount < 3 {
		t.Errorf("occurrence count = %d, want >= 3", p.OccurrenceCount)
	}
	if p.OccurrenceCount != len(p.EntryIDs) {
		t.Errorf("count %d != |entry_ids| %d", p.OccurrenceCount, len(p.EntryIDs))
	}
	if p.LastSeen != "2026-02-20" {
		t.Errorf("last seen = %s", p.LastSeen)
	}

	changed, err := tr.Resolve(p.ID)
	if err != nil || !changed {
		t.Fatalf("Resolve = %v, %v", changed, err)
	}
	active, _ = tr.Active()
	if len(active) != 0 {
		t.Errorf("resolved pattern still active")
	}
	if changed, _ := tr.Resolve(p.ID); changed {
		t.Error("second resolve reported a change")
	}
}

func TestCreateOrUpdateMergesOnOverlap(t *testing.T) {
	tr, _ := testTracker(t)

	id1, err := tr.CreateOrUpdate("timeouts in auth service", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	// Overlapping set merges into the same pattern.
	id2, err := tr.CreateOrUpdate("more auth timeouts", []string{"c", "d"})
	if err != nil {
		t.Fatalf("CreateOrUpdate merge: %v", err)
	}
	if id1 != id2 {
		t.Errorf("overlap created new pattern %s != %s", id2, id1)
	}

	p, err := tr.ForEntry("d")
	if err != nil {
		t.Fatalf("ForEntry: %v", err)
	}
	if p == nil || p.ID != id1 {
		t.Fatalf("ForEntry = %+v", p)
	}
	if p.OccurrenceCount != 4 {
		t.Errorf("merged count = %d, want 4", p.OccurrenceCount)
	}
	if p.Label != "more auth timeouts" {
		t.Errorf("label = %q", p.Label)
	}

	// Disjoint set becomes its own pattern.
	id3, err := tr.CreateOrUpdate("unrelated", []string{"x", "y", "z"})
	if err != nil {
		t.Fatalf("CreateOrUpdate disjoint: %v", err)
	}
	if id3 == id1 {
		t.Error("disjoint set merged")
	}
}

func TestLabelTruncated(t *testing.T) {
	tr, _ := testTracker(t)

	long := strings.Repeat("x", 200)
	id, err := tr.CreateOrUpdate(long, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	p, _ := tr.ForEntry("a")
	if p == nil || p.ID != id {
		t.Fatal("pattern not found")
	}
	if len(p.Label) != 80 {
		t.Errorf("label length = %d, want 80", len(p.Label))
	}
}

func TestRecordCommit(t *testing.T) {
	tr, s := testTracker(t)

	if err := tr.RecordCommit("proj", []string{"a.go", "b.go", "c.go"}, "2026-02-20"); err != nil {
		t.Fatalf("RecordCommit: %v", err)
	}
	pairs, _ := s.GetCochanges("proj", "a.go", 10)
	if len(pairs) != 2 {
		t.Errorf("pairs for a.go = %d, want 2", len(pairs))
	}

	// Single-file and bulk commits record nothing.
	tr.RecordCommit("proj", []string{"solo.go"}, "2026-02-20")
	if pairs, _ := s.GetCochanges("proj", "solo.go", 10); len(pairs) != 0 {
		t.Error("single-file commit recorded pairs")
	}

	bulk := make([]string, 25)
	for i := range bulk {
		bulk[i] = "bulk.go"
	}
	tr.RecordCommit("proj", bulk, "2026-02-20")
	if pairs, _ := s.GetCochanges("proj", "bulk.go", 10); len(pairs) != 0 {
		t.Error("bulk commit recorded pairs")
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize("first line\nsecond line"); got != "first line" {
		t.Errorf("Summarize = %q", got)
	}
	long := strings.Repeat("a", 120)
	if got := Summarize(long); len(got) != 80 {
		t.Errorf("Summarize length = %d", len(got))
	}
}
