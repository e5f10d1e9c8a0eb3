package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/daylog"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// SaveRequest is the external save contract.
type SaveRequest struct {
	Content string
	Type    string
	Tags    []string
	Tier    string // optional; empty assigns by type
	Pinned  bool
	AgentID string
}

// SaveResult reports what was stored.
type SaveResult struct {
	ID              string `json:"id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	Tier            string `json:"tier"`
	PatternDetected string `json:"pattern_detected,omitempty"`
}

// Save appends the entry to the day file, inserts it with its vector and
// runs issue pattern detection. The write path fails closed: an entry
// insert failure makes the whole save fail, and the caller must treat
// the day-file append as unreliable.
func (e *Engine) Save(req SaveRequest) (*SaveResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", store.ErrValidation)
	}

	entry := store.Entry{
		ID:        clock.MintID(),
		Date:      e.Clock.TodayLocal(),
		Time:      e.Clock.TimeHHMM(),
		Type:      req.Type,
		Tags:      req.Tags,
		Content:   content,
		Tier:      store.AssignTier(req.Type, req.Tier),
		Pinned:    req.Pinned,
		Project:   e.Cfg.Project,
		SessionID: clock.SessionID(),
		AgentID:   req.AgentID,
	}
	entry.SourceFile = e.Paths.DayFile(entry.Date)
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	// Embedder failure is fatal for an explicit save.
	v, err := e.Embedder.Embed(content)
	if err != nil {
		return nil, fmt.Errorf("embed entry: %w", err)
	}

	if err := daylog.Append(entry.SourceFile, entry.Date, entry.Time,
		entry.Type, entry.Tags, entry.ID, entry.Content); err != nil {
		return nil, fmt.Errorf("append day file: %w", err)
	}

	rowID, err := e.Store.Insert(entry)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	if err := e.Store.InsertVec(rowID, v); err != nil {
		return nil, fmt.Errorf("insert vector: %w", err)
	}
	entry.RowID = rowID

	res := &SaveResult{ID: entry.ID, Date: entry.Date, Time: entry.Time, Tier: entry.Tier}

	if entry.Type == store.TypeIssue {
		patternID, err := e.Patterns.DetectOnIssue(entry, v)
		if err != nil {
			slog.Warn("pattern detection failed", "entry", entry.ID, "error", err)
		} else if patternID != "" {
			res.PatternDetected = patternID
		}
	}

	return res, nil
}

// SaveCaptured persists a scanner capture through the normal save path.
// The vector is already computed; recomputation would hit the cache
// anyway, so the stored one is attached directly.
func (e *Engine) SaveCaptured(entryType, content string, tags []string, tier string, v []float32) error {
	entry := store.Entry{
		ID:        clock.MintID(),
		Date:      e.Clock.TodayLocal(),
		Time:      e.Clock.TimeHHMM(),
		Type:      entryType,
		Tags:      tags,
		Content:   content,
		Tier:      store.AssignTier(entryType, tier),
		Project:   e.Cfg.Project,
		SessionID: clock.SessionID(),
	}
	entry.SourceFile = e.Paths.DayFile(entry.Date)
	if err := entry.Validate(); err != nil {
		return err
	}

	if err := daylog.Append(entry.SourceFile, entry.Date, entry.Time,
		entry.Type, entry.Tags, entry.ID, entry.Content); err != nil {
		return fmt.Errorf("append day file: %w", err)
	}
	rowID, err := e.Store.Insert(entry)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	if v != nil {
		if err := e.Store.InsertVec(rowID, v); err != nil {
			return fmt.Errorf("insert vector: %w", err)
		}
	}
	return nil
}

// SaveRule upserts a rule by label.
func (e *Engine) SaveRule(label, content string) (*SaveResult, error) {
	label = strings.TrimSpace(label)
	content = strings.TrimSpace(content)
	if label == "" || content == "" {
		return nil, fmt.Errorf("%w: rule needs label and content", store.ErrValidation)
	}

	entry := store.Entry{
		ID:        clock.MintID(),
		Date:      e.Clock.TodayLocal(),
		Time:      e.Clock.TimeHHMM(),
		Type:      store.TypeRule,
		Content:   content,
		Label:     label,
		Project:   e.Cfg.Project,
		SessionID: clock.SessionID(),
	}

	rowID, err := e.Store.SaveRule(entry)
	if err != nil {
		return nil, err
	}

	if v, err := e.Embedder.Embed(content); err != nil {
		slog.Warn("rule embedding failed", "label", label, "error", err)
	} else if err := e.Store.InsertVec(rowID, v); err != nil {
		slog.Warn("rule vector insert failed", "label", label, "error", err)
	}

	return &SaveResult{ID: entry.ID, Date: entry.Date, Time: entry.Time, Tier: store.TierLongterm}, nil
}

// IndexCommit stores a git_commit entry and records co-change pairs for
// the commit's files.
func (e *Engine) IndexCommit(project, hash, subject string, files []string) (*SaveResult, error) {
	if hash == "" {
		return nil, fmt.Errorf("%w: empty commit hash", store.ErrValidation)
	}
	short := hash
	if len(short) > 7 {
		short = short[:7]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "commit %s: %s", short, strings.TrimSpace(subject))
	if len(files) > 0 {
		sb.WriteString("\nfiles:")
		for _, f := range files {
			sb.WriteString("\n  ")
			sb.WriteString(f)
		}
	}

	if project == "" {
		project = e.Cfg.Project
	}
	res, err := e.Save(SaveRequest{
		Content: sb.String(),
		Type:    store.TypeGitCommit,
		Tags:    []string{"commit:" + short},
	})
	if err != nil {
		return nil, err
	}

	if err := e.Patterns.RecordCommit(project, files, e.Clock.TodayLocal()); err != nil {
		slog.Warn("co-change recording failed", "commit", short, "error", err)
	}
	return res, nil
}
