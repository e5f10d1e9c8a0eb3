package hooks

import "time"

func parseYMD(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// Injection budget constants. Rules are exempt from truncation; every
// other section consumes from the shared budget and is clamped.
const (
	totalMaxChars    = 4000
	minSectionBudget = 64

	// tailReserve keeps room for section separators and the always-present
	// entry-count line.
	tailReserve = 64
)

// packet accumulates injection text under the shared budget.
type packet struct {
	parts     []string
	used      int
	exhausted bool
}

// addVerbatim appends text regardless of remaining budget. Rules only.
func (p *packet) addVerbatim(text string) {
	if text == "" {
		return
	}
	p.parts = append(p.parts, text)
	p.used += len(text)
}

// add appends text clamped to the remaining budget. Returns false once
// the budget is exhausted so callers can stop assembling sections.
func (p *packet) add(text string) bool {
	if text == "" {
		return !p.exhausted
	}
	remaining := totalMaxChars - tailReserve - p.used
	if remaining < minSectionBudget {
		p.exhausted = true
		return false
	}
	if len(text) > remaining {
		text = clampToBudget(text, remaining)
		p.exhausted = true
	}
	p.parts = append(p.parts, text)
	p.used += len(text)
	return !p.exhausted
}

func clampToBudget(content string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if len(content) <= budget {
		return content
	}
	if budget <= 3 {
		return content[:budget]
	}
	return content[:budget-3] + "..."
}

func truncateLine(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
