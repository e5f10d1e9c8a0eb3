// Package patterns detects recurring issues and tracks file co-change
// observations.
package patterns

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/rank"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// Detection thresholds.
const (
	similarWindowDays = 30
	similarDistance   = 0.5
	minSimilarIssues  = 2  // similar entries beyond the new one
	maxLabelLen       = 80
	minCommitFiles    = 2
	maxCommitFiles    = 20 // exclusive; bulk commits carry no signal
)

// Tracker runs issue-similarity detection and co-change recording.
type Tracker struct {
	store  *store.Store
	ranker *rank.Ranker
	clk    *clock.Clock
}

// New creates a Tracker.
func New(s *store.Store, r *rank.Ranker, clk *clock.Clock) *Tracker {
	return &Tracker{store: s, ranker: r, clk: clk}
}

// DetectOnIssue runs after an issue entry is saved with its vector. When
// at least two similar prior issues exist, the group becomes (or joins)
// a pattern. Returns the pattern id when one was created or updated.
func (t *Tracker) DetectOnIssue(e store.Entry, v []float32) (string, error) {
	if e.Type != store.TypeIssue || v == nil {
		return "", nil
	}

	similar, err := t.ranker.FindSimilarIssues(v, similarWindowDays, similarDistance)
	if err != nil {
		return "", fmt.Errorf("find similar issues: %w", err)
	}

	ids := []string{e.ID}
	for _, s := range similar {
		if s.ID != e.ID {
			ids = append(ids, s.ID)
		}
	}
	if len(ids)-1 < minSimilarIssues {
		return "", nil
	}

	return t.CreateOrUpdate(Summarize(e.Content), ids)
}

// CreateOrUpdate merges the entry ids into the first unresolved pattern
// sharing any id, or creates a fresh pattern. First-match-wins by scan
// order.
func (t *Tracker) CreateOrUpdate(label string, entryIDs []string) (string, error) {
	if len(label) > maxLabelLen {
		label = label[:maxLabelLen]
	}
	today := t.clk.TodayLocal()

	unresolved, err := t.store.UnresolvedPatterns()
	if err != nil {
		return "", err
	}

	incoming := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		incoming[id] = true
	}

	for _, p := range unresolved {
		overlap := false
		for _, id := range p.EntryIDs {
			if incoming[id] {
				overlap = true
				break
			}
		}
		if !overlap {
			continue
		}

		merged := p.EntryIDs
		seen := make(map[string]bool, len(merged))
		for _, id := range merged {
			seen[id] = true
		}
		for _, id := range entryIDs {
			if !seen[id] {
				merged = append(merged, id)
				seen[id] = true
			}
		}

		p.EntryIDs = merged
		p.OccurrenceCount = len(merged)
		p.LastSeen = today
		p.Label = label
		if err := t.store.UpsertPattern(p); err != nil {
			return "", err
		}
		return p.ID, nil
	}

	p := store.Pattern{
		ID:        clock.MintID(),
		Label:     label,
		EntryIDs:  entryIDs,
		FirstSeen: today,
		LastSeen:  today,
	}
	if err := t.store.UpsertPattern(p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// Active returns unresolved patterns with at least 3 occurrences.
func (t *Tracker) Active() ([]store.Pattern, error) {
	return t.store.ActivePatterns()
}

// Resolve marks a pattern resolved.
func (t *Tracker) Resolve(id string) (bool, error) {
	return t.store.ResolvePattern(id)
}

// ForEntry returns the first unresolved pattern containing the entry.
func (t *Tracker) ForEntry(entryID string) (*store.Pattern, error) {
	unresolved, err := t.store.UnresolvedPatterns()
	if err != nil {
		return nil, err
	}
	for _, p := range unresolved {
		for _, id := range p.EntryIDs {
			if id == entryID {
				pp := p
				return &pp, nil
			}
		}
	}
	return nil, nil
}

// RecordCommit records co-change pairs for a commit's files. Commits
// with fewer than 2 or 20-plus files are skipped.
func (t *Tracker) RecordCommit(project string, files []string, date string) error {
	if len(files) < minCommitFiles || len(files) >= maxCommitFiles {
		return nil
	}
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if err := t.store.UpsertFilePair(project, files[i], files[j], date); err != nil {
				return fmt.Errorf("upsert file pair: %w", err)
			}
		}
	}
	return nil
}

// Summarize derives a pattern label from issue content: the first line,
// trimmed to the label cap.
func Summarize(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > maxLabelLen {
		line = line[:maxLabelLen]
	}
	return line
}
