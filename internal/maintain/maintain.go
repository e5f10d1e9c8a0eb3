// Package maintain runs the lifecycle passes: decay, demotion,
// promotion and consolidation of near-duplicate clusters.
package maintain

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// Access-aware age windows, in days. An entry decays or demotes when its
// age (or idle time) exceeds the window for its access bucket.
const (
	decayUnread   = 3
	decayFew      = 7
	decayMany     = 14
	demoteUnread  = 15
	demoteFew     = 30
	demoteMany    = 60
	promoteAfter  = 7
	frequentAfter = 3

	consolidateWindowDays = 30
	consolidateMinAge     = 3
	consolidateMinCluster = 3
	consolidateCosine     = 0.75
)

// Report counts the rows changed by one maintenance run.
type Report struct {
	Decayed          int `json:"decayed"`
	Demoted          int `json:"demoted"`
	PromotedStable   int `json:"promoted_stable"`
	PromotedFrequent int `json:"promoted_frequent"`
	Consolidated     int `json:"consolidated"`
}

// Zero reports whether the run changed nothing.
func (r Report) Zero() bool {
	return r.Decayed == 0 && r.Demoted == 0 && r.PromotedStable == 0 &&
		r.PromotedFrequent == 0 && r.Consolidated == 0
}

// Maintainer owns the lifecycle passes. It talks to the store directly
// and carries its own cosine pass rather than depending on the ranker.
type Maintainer struct {
	store *store.Store
	clk   *clock.Clock
}

// New creates a Maintainer.
func New(s *store.Store, clk *clock.Clock) *Maintainer {
	return &Maintainer{store: s, clk: clk}
}

// Run executes the passes in order and returns the counters.
func (m *Maintainer) Run() (Report, error) {
	var rep Report
	var err error

	// Each pass lists afresh so it never acts on rows an earlier pass
	// archived or retiered.
	if rep.Decayed, err = m.runPass(m.decayEphemeral); err != nil {
		return rep, err
	}
	if rep.Demoted, err = m.runPass(m.demoteIdleWorking); err != nil {
		return rep, err
	}
	if rep.PromotedStable, err = m.runPass(m.promoteStable); err != nil {
		return rep, err
	}
	if rep.PromotedFrequent, err = m.runPass(m.promoteFrequent); err != nil {
		return rep, err
	}
	if rep.Consolidated, err = m.consolidate(); err != nil {
		return rep, err
	}

	if !rep.Zero() {
		slog.Info("maintenance run",
			"decayed", rep.Decayed, "demoted", rep.Demoted,
			"promoted_stable", rep.PromotedStable,
			"promoted_frequent", rep.PromotedFrequent,
			"consolidated", rep.Consolidated)
	}
	return rep, nil
}

func (m *Maintainer) runPass(pass func([]store.Entry) (int, error)) (int, error) {
	entries, err := m.store.List(store.SearchOptions{})
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}
	return pass(entries)
}

// decayEphemeral archives ephemeral entries whose age exceeds the window
// for their access bucket. Pinned entries are never touched.
func (m *Maintainer) decayEphemeral(entries []store.Entry) (int, error) {
	var ids []string
	for _, e := range entries {
		if e.Tier != store.TierEphemeral || e.Pinned {
			continue
		}
		age := m.clk.DaysSince(e.Date)
		if age > decayWindow(e.AccessCount) {
			ids = append(ids, e.ID)
		}
	}
	return m.store.Archive(ids)
}

func decayWindow(accessCount int) int {
	switch {
	case accessCount >= 3:
		return decayMany
	case accessCount >= 1:
		return decayFew
	default:
		return decayUnread
	}
}

// demoteIdleWorking retires working entries to ephemeral once idle past
// the window for their access bucket. Idle counts from last access,
// falling back to creation date.
func (m *Maintainer) demoteIdleWorking(entries []store.Entry) (int, error) {
	var ids []string
	for _, e := range entries {
		if e.Tier != store.TierWorking || e.Pinned {
			continue
		}
		ref := e.LastAccessed
		if ref == "" {
			ref = e.Date
		}
		idle := m.clk.DaysSince(ref)
		if idle > demoteWindow(e.AccessCount) {
			ids = append(ids, e.ID)
		}
	}
	return m.store.SetTier(ids, store.TierEphemeral)
}

func demoteWindow(accessCount int) int {
	switch {
	case accessCount >= 3:
		return demoteMany
	case accessCount >= 1:
		return demoteFew
	default:
		return demoteUnread
	}
}

// promoteStable lifts settled decisions and insights to longterm.
func (m *Maintainer) promoteStable(entries []store.Entry) (int, error) {
	var ids []string
	for _, e := range entries {
		if e.Tier != store.TierWorking || e.Pinned {
			continue
		}
		if e.Type != store.TypeDecision && e.Type != store.TypeInsight {
			continue
		}
		if m.clk.DaysSince(e.Date) > promoteAfter {
			ids = append(ids, e.ID)
		}
	}
	return m.store.SetTier(ids, store.TierLongterm)
}

// promoteFrequent lifts frequently accessed ephemeral entries to working.
func (m *Maintainer) promoteFrequent(entries []store.Entry) (int, error) {
	var ids []string
	for _, e := range entries {
		if e.Tier != store.TierEphemeral || e.Pinned {
			continue
		}
		if e.AccessCount >= frequentAfter {
			ids = append(ids, e.ID)
		}
	}
	return m.store.SetTier(ids, store.TierWorking)
}

// Cluster is one consolidation candidate group.
type Cluster struct {
	entries []store.Entry
}

// consolidate merges clusters of near-duplicate issues and decisions
// into their most-accessed member and archives the rest.
func (m *Maintainer) consolidate() (int, error) {
	clusters, err := m.FindConsolidationCandidates(consolidateCosine)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range clusters {
		ok, err := m.consolidateCluster(c)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// FindConsolidationCandidates greedily clusters recent non-archived
// issues and decisions by vector cosine. First-match-wins: an entry
// joins the first cluster whose seed it matches. Only clusters of at
// least 3 survive.
func (m *Maintainer) FindConsolidationCandidates(cosineThreshold float64) ([]Cluster, error) {
	since := m.sinceCutoff(consolidateWindowDays)
	recent, err := m.store.List(store.SearchOptions{Since: since})
	if err != nil {
		return nil, err
	}

	type candidate struct {
		entry store.Entry
		vec   []float32
	}
	var candidates []candidate
	for _, e := range recent {
		if e.Type != store.TypeIssue && e.Type != store.TypeDecision {
			continue
		}
		if e.Pinned {
			continue
		}
		v, err := m.store.GetVec(e.RowID)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		candidates = append(candidates, candidate{entry: e, vec: v})
	}

	assigned := make([]bool, len(candidates))
	var clusters []Cluster
	for i := range candidates {
		if assigned[i] {
			continue
		}
		group := Cluster{entries: []store.Entry{candidates[i].entry}}
		assigned[i] = true
		for j := i + 1; j < len(candidates); j++ {
			if assigned[j] {
				continue
			}
			if store.CosineSimilarity(candidates[i].vec, candidates[j].vec) >= cosineThreshold {
				group.entries = append(group.entries, candidates[j].entry)
				assigned[j] = true
			}
		}
		if len(group.entries) >= consolidateMinCluster {
			clusters = append(clusters, group)
		}
	}
	return clusters, nil
}

// consolidateCluster merges one cluster. Clusters containing anything
// newer than the minimum age, or any rule or reference, are left alone.
func (m *Maintainer) consolidateCluster(c Cluster) (bool, error) {
	for _, e := range c.entries {
		if m.clk.DaysSince(e.Date) <= consolidateMinAge {
			return false, nil
		}
		if e.Type == store.TypeRule || e.Type == store.TypeReference {
			return false, nil
		}
	}

	survivor := c.entries[0]
	for _, e := range c.entries[1:] {
		if e.AccessCount > survivor.AccessCount {
			survivor = e
			continue
		}
		if e.AccessCount == survivor.AccessCount {
			if e.Date > survivor.Date || (e.Date == survivor.Date && e.Time > survivor.Time) {
				survivor = e
			}
		}
	}

	// Merge tags: survivor's order first, then unseen tags from the rest.
	tags := append([]string(nil), survivor.Tags...)
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		seen[t] = true
	}
	var archiveIDs []string
	for _, e := range c.entries {
		if e.ID == survivor.ID {
			continue
		}
		for _, t := range e.Tags {
			if !seen[t] {
				tags = append(tags, t)
				seen[t] = true
			}
		}
		archiveIDs = append(archiveIDs, e.ID)
	}

	content := fmt.Sprintf("%s\n[Consolidated from %d entries]", survivor.Content, len(c.entries))
	if err := m.store.UpdateContentTags(survivor.ID, content, tags); err != nil {
		return false, fmt.Errorf("update survivor: %w", err)
	}
	if survivor.Tier == store.TierEphemeral {
		if _, err := m.store.SetTier([]string{survivor.ID}, store.TierWorking); err != nil {
			return false, err
		}
	}
	if _, err := m.store.Archive(archiveIDs); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Maintainer) sinceCutoff(days int) string {
	today, err := time.Parse("2006-01-02", m.clk.TodayLocal())
	if err != nil {
		return ""
	}
	return today.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
}
