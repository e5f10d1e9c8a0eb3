// Package hooks implements the session lifecycle entry points consumed
// from the process supervisor: session start injection, turn-end capture
// and pre-compaction snapshots. Every hook exits successfully on every
// path so the supervisor is never blocked.
package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/mnemo/internal/engine"
	"github.com/nextlevelbuilder/mnemo/internal/maintain"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// sessionStartInput is the supervisor's stdin payload.
type sessionStartInput struct {
	Source string `json:"source"`
}

// recentDays is the window for the recent-entries section.
const recentDays = 3

// SessionStart assembles the context packet and writes it to stdout.
// The output is injected verbatim into the assistant session.
func SessionStart(e *engine.Engine, stdin io.Reader, stdout io.Writer) error {
	var in sessionStartInput
	_ = json.NewDecoder(stdin).Decode(&in) // malformed input degrades to defaults

	// Maintenance first so the packet reflects the post-maintenance store.
	report, err := e.Maintain()
	if err != nil {
		slog.Warn("session-start maintenance failed", "error", err)
	}

	var p packet

	addRules(&p, e)
	addPendingRules(&p, e)
	addRecent(&p, e)
	addHandoff(&p, e)
	addPatterns(&p, e)
	addRelatedFiles(&p, e)
	addCrossProject(&p, e)
	addMaintenanceSummary(&p, report)

	// The entry-count line is always present, budget or not.
	st, err := e.Status()
	if err != nil {
		slog.Warn("status failed", "error", err)
	}
	p.addVerbatim(fmt.Sprintf("Total entries: %d\n", st.Total))

	_, err = io.WriteString(stdout, strings.Join(p.parts, "\n"))
	return err
}

// addRules emits every rule verbatim. Rules are never truncated.
func addRules(p *packet, e *engine.Engine) {
	rules, err := e.Store.ListRules()
	if err != nil || len(rules) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString("## Rules\n")
	for _, r := range rules {
		fmt.Fprintf(&sb, "- [%s] %s\n", r.Label, r.Content)
	}
	p.addVerbatim(sb.String())
}

func addPendingRules(p *packet, e *engine.Engine) {
	pending, err := e.Store.FindByTag("pending_rule")
	if err != nil || len(pending) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString("## Proposed rules (unconfirmed)\n")
	for i, r := range pending {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", truncateLine(r.Content, 120))
	}
	p.add(sb.String())
}

// addRecent lists recent non-ephemeral entries, current project first.
func addRecent(p *packet, e *engine.Engine) {
	since := sinceDays(e, recentDays)
	entries, err := e.Store.List(store.SearchOptions{Since: since})
	if err != nil || len(entries) == 0 {
		return
	}

	var keep []store.Entry
	for _, en := range entries {
		if en.Tier == store.TierEphemeral || en.Type == store.TypeRule {
			continue
		}
		keep = append(keep, en)
	}
	if len(keep) == 0 {
		return
	}

	project := e.Cfg.Project
	sort.SliceStable(keep, func(i, j int) bool {
		pi, pj := keep[i].Project == project && project != "", keep[j].Project == project && project != ""
		return pi && !pj
	})

	var sb strings.Builder
	sb.WriteString("## Recent context\n")
	for i, en := range keep {
		if i >= 15 {
			break
		}
		fmt.Fprintf(&sb, "- [%s %s] %s\n", en.Date, en.Type, truncateLine(en.Content, 140))
	}
	p.add(sb.String())
}

func addHandoff(p *packet, e *engine.Engine) {
	handoffs, err := e.Store.List(store.SearchOptions{Type: store.TypeHandoff, Limit: 1, IncludeArchived: true})
	if err != nil || len(handoffs) == 0 {
		return
	}
	h := handoffs[0]
	p.add(fmt.Sprintf("## Last handoff (%s %s)\n%s\n", h.Date, h.Time, truncateLine(h.Content, 600)))
}

func addPatterns(p *packet, e *engine.Engine) {
	active, err := e.Patterns.Active()
	if err != nil || len(active) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString("## Recurring issues\n")
	for _, pat := range active {
		fmt.Fprintf(&sb, "- %s (seen %dx, last %s)\n", pat.Label, pat.OccurrenceCount, pat.LastSeen)
	}
	p.add(sb.String())
}

// addRelatedFiles surfaces co-change suggestions for files touched by
// recent indexed commits.
func addRelatedFiles(p *packet, e *engine.Engine) {
	since := sinceDays(e, recentDays)
	commits, err := e.Store.List(store.SearchOptions{Type: store.TypeGitCommit, Since: since, Limit: 5})
	if err != nil || len(commits) == 0 {
		return
	}

	seen := make(map[string]bool)
	var sb strings.Builder
	for _, c := range commits {
		for _, file := range commitFiles(c.Content) {
			if seen[file] {
				continue
			}
			seen[file] = true
			pairs, err := e.Store.GetCochanges(e.Cfg.Project, file, 3)
			if err != nil || len(pairs) == 0 {
				continue
			}
			var others []string
			for _, fp := range pairs {
				other := fp.FileA
				if other == file {
					other = fp.FileB
				}
				others = append(others, fmt.Sprintf("%s (%dx)", other, fp.CoChangeCount))
			}
			fmt.Fprintf(&sb, "- %s usually changes with %s\n", file, strings.Join(others, ", "))
		}
	}
	if sb.Len() > 0 {
		p.add("## Co-change suggestions\n" + sb.String())
	}
}

func addCrossProject(p *packet, e *engine.Engine) {
	project := e.Cfg.Project
	if project == "" {
		return
	}
	since := sinceDays(e, recentDays)
	insights, err := e.Store.List(store.SearchOptions{Type: store.TypeInsight, Since: since, Limit: 20})
	if err != nil {
		return
	}
	var sb strings.Builder
	count := 0
	for _, en := range insights {
		if en.Project == "" || en.Project == project {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", en.Project, truncateLine(en.Content, 120))
		if count++; count >= 3 {
			break
		}
	}
	if sb.Len() > 0 {
		p.add("## From other projects\n" + sb.String())
	}
}

func addMaintenanceSummary(p *packet, r maintain.Report) {
	if r.Zero() {
		return
	}
	p.add(fmt.Sprintf("## Maintenance\ndecayed=%d demoted=%d promoted=%d consolidated=%d\n",
		r.Decayed, r.Demoted, r.PromotedStable+r.PromotedFrequent, r.Consolidated))
}

// commitFiles recovers the file list from a git_commit entry body.
func commitFiles(content string) []string {
	var files []string
	inFiles := false
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "files:" {
			inFiles = true
			continue
		}
		if inFiles {
			f := strings.TrimSpace(line)
			if f == "" {
				break
			}
			files = append(files, f)
		}
	}
	return files
}

func sinceDays(e *engine.Engine, days int) string {
	today := e.Clock.TodayLocal()
	t, err := parseYMD(today)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
}
