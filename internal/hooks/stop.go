package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/mnemo/internal/engine"
	"github.com/nextlevelbuilder/mnemo/internal/scanner"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// handoffMinGap is the minimum spacing between handoff entries.
const handoffMinGap = 5 * time.Minute

type stopInput struct {
	StopHookActive bool `json:"stop_hook_active"`
}

type preCompactInput struct {
	Trigger            string `json:"trigger"`
	CustomInstructions string `json:"custom_instructions"`
}

// Stop runs at turn end: scan the transcript, then emit a handoff entry
// when enough time has passed since the last one.
func Stop(e *engine.Engine, stdin io.Reader) error {
	var in stopInput
	_ = json.NewDecoder(stdin).Decode(&in)
	if in.StopHookActive {
		return nil
	}

	runScan(e)

	if !handoffDue(e) {
		return nil
	}
	return emitHandoff(e)
}

// PreCompact runs before context compaction: a mandatory scan as the
// safety net, then a progress snapshot of the session so far.
func PreCompact(e *engine.Engine, stdin io.Reader) error {
	var in preCompactInput
	_ = json.NewDecoder(stdin).Decode(&in)

	runScan(e)

	content := "Context compacted"
	if in.Trigger != "" {
		content = fmt.Sprintf("Context compacted (%s)", in.Trigger)
	}
	if in.CustomInstructions != "" {
		content += "\nInstructions: " + in.CustomInstructions
	}

	_, err := e.Save(engine.SaveRequest{
		Content: content,
		Type:    store.TypeProgress,
		Tags:    []string{"compaction-snapshot"},
	})
	return err
}

// runScan executes one transcript scan. Scan failures never propagate
// to the supervisor.
func runScan(e *engine.Engine) {
	if e.Cfg.TranscriptDir == "" {
		return
	}
	sc := scanner.New(e.Store, e.Embedder, e.Cfg.TranscriptDir,
		e.Paths.CursorFile(), e.SaveCaptured)
	rep, err := sc.Scan()
	if err != nil {
		slog.Warn("transcript scan failed", "error", err)
		return
	}
	if rep.Inserted+rep.PendingRules+rep.DebugPatterns > 0 {
		slog.Info("transcript scan",
			"messages", rep.Messages, "inserted", rep.Inserted,
			"pending_rules", rep.PendingRules, "debug_patterns", rep.DebugPatterns)
	}
}

// handoffDue checks the epoch-ms stamp at <base>/db/.last-handoff.
func handoffDue(e *engine.Engine) bool {
	data, err := os.ReadFile(e.Paths.LastHandoffFile())
	if err != nil {
		return true
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return true
	}
	last := time.UnixMilli(ms)
	return e.Clock.NowUTC().Sub(last.UTC()) >= handoffMinGap
}

// emitHandoff summarises today's activity into a handoff entry and
// bumps the contributing entries.
func emitHandoff(e *engine.Engine) error {
	today := e.Clock.TodayLocal()
	entries, err := e.Store.List(store.SearchOptions{Since: today})
	if err != nil {
		return err
	}

	byType := make(map[string]int)
	var contributors []string
	var highlights []string
	for _, en := range entries {
		if en.Type == store.TypeHandoff {
			continue
		}
		byType[en.Type]++
		contributors = append(contributors, en.ID)
		if len(highlights) < 5 && (en.Type == store.TypeDecision || en.Type == store.TypeIssue) {
			highlights = append(highlights, truncateLine(en.Content, 100))
		}
	}
	if len(contributors) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session handoff for %s.", today)
	var counts []string
	for _, t := range []string{store.TypeDecision, store.TypeIssue, store.TypeInsight,
		store.TypeProgress, store.TypeGitCommit, store.TypeReference} {
		if byType[t] > 0 {
			counts = append(counts, fmt.Sprintf("%d %s", byType[t], t))
		}
	}
	if len(counts) > 0 {
		sb.WriteString(" Captured " + strings.Join(counts, ", ") + ".")
	}
	for _, h := range highlights {
		sb.WriteString("\n- " + h)
	}

	if _, err := e.Save(engine.SaveRequest{
		Content: sb.String(),
		Type:    store.TypeHandoff,
		Tags:    []string{"session-handoff"},
	}); err != nil {
		return err
	}

	if err := e.Store.BumpAccess(contributors, today); err != nil {
		slog.Warn("handoff access bump failed", "error", err)
	}

	stamp := strconv.FormatInt(e.Clock.NowUTC().UnixMilli(), 10)
	if err := os.WriteFile(e.Paths.LastHandoffFile(), []byte(stamp), 0600); err != nil {
		slog.Warn("last-handoff stamp failed", "error", err)
	}
	return nil
}
