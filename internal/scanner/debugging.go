package scanner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// lookback is how many messages before a resolution are searched for the
// error that prompted it.
const lookback = 8

var resolutionRe = regexp.MustCompile(
	`(?i)\b(fix was|solution is|the issue was|root cause|now works|resolved by|the problem was)\b`)

var errorRe = regexp.MustCompile(
	`(?i)\b(error|failed|doesn't work|ENOENT|EACCES|EPERM|TypeError|ReferenceError|SyntaxError|exit code [1-9]|command not found)\b`)

// captureDebugging pairs assistant resolution messages with the errors
// preceding them and stores the episode as a longterm insight.
func (sc *Scanner) captureDebugging(messages []Message) (int, error) {
	captured := 0
	for i, m := range messages {
		if m.Role != "assistant" || !resolutionRe.MatchString(m.Text) {
			continue
		}

		var errors []string
		start := i - lookback
		if start < 0 {
			start = 0
		}
		for _, prev := range messages[start:i] {
			if errorRe.MatchString(prev.Text) {
				errors = append(errors, snippet(prev.Text, 200))
			}
		}
		if len(errors) == 0 {
			continue
		}

		content := composeDebugInsight(errors, m.Text)

		v, err := sc.emb.Embed(content)
		if err != nil {
			return captured, err
		}
		dup, err := sc.isNearDuplicate(v)
		if err != nil {
			return captured, err
		}
		if dup {
			continue
		}

		tags := []string{"debugging-pattern", "transcript-scan", "auto-captured"}
		if err := sc.save(store.TypeInsight, content, tags, store.TierLongterm, v); err != nil {
			return captured, err
		}
		captured++
	}
	return captured, nil
}

func composeDebugInsight(errors []string, resolution string) string {
	var sb strings.Builder
	sb.WriteString("Debugging pattern.\n")
	fmt.Fprintf(&sb, "Failed attempts (%d):\n", len(errors))
	for _, e := range errors {
		sb.WriteString("- ")
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	sb.WriteString("Resolution: ")
	sb.WriteString(snippet(resolution, 400))
	return sb.String()
}

func snippet(s string, maxLen int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
