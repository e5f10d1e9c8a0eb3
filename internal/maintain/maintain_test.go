package maintain

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

var today = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

func testMaintainer(t *testing.T) (*Maintainer, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, clock.Fixed(today)), s
}

func unitVec(axis int) []float32 {
	v := make([]float32, store.VectorDim)
	v[axis] = 1
	return v
}

func insert(t *testing.T, s *store.Store, e store.Entry, v []float32) {
	t.Helper()
	rowID, err := s.Insert(e)
	if err != nil {
		t.Fatalf("Insert %s: %v", e.ID, err)
	}
	if v != nil {
		if err := s.InsertVec(rowID, v); err != nil {
			t.Fatalf("InsertVec %s: %v", e.ID, err)
		}
	}
}

func TestConsolidation(t *testing.T) {
	m, s := testMaintainer(t)

	// Three near-identical issues from four days ago with access counts
	// 5, 2, 0. The most-accessed one survives.
	mk := func(id string, access int, tags []string) store.Entry {
		return store.Entry{
			ID: id, Date: "2026-02-16", Time: "10:0" + id[len(id)-1:],
			Type: store.TypeIssue, Tier: store.TierWorking,
			Content: "Connection pool exhausted under load", Tags: tags,
			AccessCount: access,
		}
	}
	insert(t, s, mk("c1", 5, []string{"db"}), unitVec(0))
	insert(t, s, mk("c2", 2, []string{"pool"}), unitVec(0))
	insert(t, s, mk("c3", 0, []string{"db", "load"}), unitVec(0))

	rep, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Consolidated != 1 {
		t.Fatalf("consolidated = %d, want 1", rep.Consolidated)
	}

	survivor, err := s.Get("c1")
	if err != nil {
		t.Fatalf("Get survivor: %v", err)
	}
	if !strings.HasSuffix(survivor.Content, "[Consolidated from 3 entries]") {
		t.Errorf("survivor content = %q", survivor.Content)
	}
	if survivor.Tier != store.TierWorking {
		t.Errorf("survivor tier = %s", survivor.Tier)
	}
	if survivor.Archived {
		t.Error("survivor archived")
	}
	// Tag union preserves the survivor's order, then adds the rest in
	// cluster order (newest first: c3's "load" before c2's "pool").
	wantTags := []string{"db", "load", "pool"}
	if len(survivor.Tags) != len(wantTags) {
		t.Fatalf("tags = %v, want %v", survivor.Tags, wantTags)
	}
	for i, tag := range wantTags {
		if survivor.Tags[i] != tag {
			t.Fatalf("tags = %v, want %v", survivor.Tags, wantTags)
		}
	}

	for _, id := range []string{"c2", "c3"} {
		e, _ := s.Get(id)
		if !e.Archived {
			t.Errorf("%s not archived", id)
		}
	}
}

func TestConsolidationSkipsFreshClusters(t *testing.T) {
	m, s := testMaintainer(t)

	for _, id := range []string{"f1", "f2", "f3"} {
		insert(t, s, store.Entry{
			ID: id, Date: "2026-02-19", Time: "10:00", Type: store.TypeIssue,
			Tier: store.TierWorking, Content: "fresh duplicate issue",
		}, unitVec(0))
	}

	rep, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Consolidated != 0 {
		t.Errorf("fresh cluster consolidated: %d", rep.Consolidated)
	}
}

func TestDecayEphemeral(t *testing.T) {
	m, s := testMaintainer(t)

	mk := func(id, date string, access int, pinned bool) store.Entry {
		return store.Entry{
			ID: id, Date: date, Time: "10:00", Type: store.TypeProgress,
			Tier: store.TierEphemeral, Content: "note " + id,
			AccessCount: access, Pinned: pinned,
		}
	}
	insert(t, s, mk("unread-old", "2026-02-16", 0, false), nil)  // age 4 > 3: decays
	insert(t, s, mk("unread-new", "2026-02-18", 0, false), nil)  // age 2: stays
	insert(t, s, mk("few-old", "2026-02-10", 2, false), nil)     // age 10 > 7: decays
	insert(t, s, mk("few-new", "2026-02-15", 1, false), nil)     // age 5: stays
	insert(t, s, mk("many-old", "2026-02-01", 4, false), nil)    // age 19 > 14: decays
	insert(t, s, mk("pinned-old", "2026-01-01", 0, true), nil)   // pinned: never

	rep, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Decayed != 3 {
		t.Errorf("decayed = %d, want 3", rep.Decayed)
	}

	for id, want := range map[string]bool{
		"unread-old": true, "unread-new": false,
		"few-old": true, "few-new": false,
		"many-old": true, "pinned-old": false,
	} {
		e, _ := s.Get(id)
		if e.Archived != want {
			t.Errorf("%s archived = %v, want %v", id, e.Archived, want)
		}
	}
}

func TestDemoteIdleWorking(t *testing.T) {
	m, s := testMaintainer(t)

	idle := store.Entry{
		ID: "idle", Date: "2026-01-20", Time: "10:00", Type: store.TypeReference,
		Tier: store.TierWorking, Content: "stale working note",
	}
	insert(t, s, idle, nil) // idle 31 days, 0 accesses: > 15, demotes

	touched := store.Entry{
		ID: "touched", Date: "2026-01-20", Time: "10:00", Type: store.TypeReference,
		Tier: store.TierWorking, Content: "recently used note", LastAccessed: "2026-02-18",
	}
	insert(t, s, touched, nil) // idle 2 days: stays

	rep, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Demoted != 1 {
		t.Errorf("demoted = %d, want 1", rep.Demoted)
	}
	e, _ := s.Get("idle")
	if e.Tier != store.TierEphemeral {
		t.Errorf("idle tier = %s", e.Tier)
	}
	e, _ = s.Get("touched")
	if e.Tier != store.TierWorking {
		t.Errorf("touched tier = %s", e.Tier)
	}
}

func TestPromotions(t *testing.T) {
	m, s := testMaintainer(t)

	insert(t, s, store.Entry{
		ID: "stable", Date: "2026-02-10", Time: "10:00", Type: store.TypeDecision,
		Tier: store.TierWorking, Content: "ten day old decision",
	}, nil)
	insert(t, s, store.Entry{
		ID: "young", Date: "2026-02-18", Time: "10:00", Type: store.TypeDecision,
		Tier: store.TierWorking, Content: "two day old decision",
	}, nil)
	insert(t, s, store.Entry{
		ID: "hot", Date: "2026-02-19", Time: "10:00", Type: store.TypeProgress,
		Tier: store.TierEphemeral, Content: "frequently accessed note", AccessCount: 3,
	}, nil)

	rep, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.PromotedStable != 1 {
		t.Errorf("promoted_stable = %d, want 1", rep.PromotedStable)
	}
	if rep.PromotedFrequent != 1 {
		t.Errorf("promoted_frequent = %d, want 1", rep.PromotedFrequent)
	}

	e, _ := s.Get("stable")
	if e.Tier != store.TierLongterm {
		t.Errorf("stable tier = %s", e.Tier)
	}
	e, _ = s.Get("young")
	if e.Tier != store.TierWorking {
		t.Errorf("young tier = %s", e.Tier)
	}
	e, _ = s.Get("hot")
	if e.Tier != store.TierWorking {
		t.Errorf("hot tier = %s", e.Tier)
	}
}
