// Package scanner incrementally reads assistant conversation transcripts
// and distils them into structured entries: classified insights, pending
// rule proposals and debugging patterns.
package scanner

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nextlevelbuilder/mnemo/internal/embed"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// Per-scan work caps.
const (
	maxChunk        = 10 << 20 // raw bytes read per scan
	maxClassified   = 10       // messages classified per scan
	dupDistance     = 0.55     // vector distance below which a message is a near-duplicate
	ruleDupCosine   = 0.75     // similarity at which a proposal matches an existing rule
	userThreshold   = 0.3
	asstThreshold   = 0.7
	anchorThreshold = 0.3
)

// SaveFunc persists one captured entry with its vector. Provided by the
// engine so captures flow through the normal save path.
type SaveFunc func(entryType, content string, tags []string, tier string, v []float32) error

// Report summarises one scan.
type Report struct {
	File          string
	Messages      int
	Inserted      int
	PendingRules  int
	DebugPatterns int
}

// Scanner reads transcripts incrementally behind a persistent cursor.
type Scanner struct {
	store      *store.Store
	emb        *embed.Embedder
	dir        string
	cursorPath string
	save       SaveFunc
}

// New creates a Scanner over the transcript directory.
func New(s *store.Store, emb *embed.Embedder, dir, cursorPath string, save SaveFunc) *Scanner {
	return &Scanner{store: s, emb: emb, dir: dir, cursorPath: cursorPath, save: save}
}

// Scan reads new transcript content and captures entries. Concurrent
// invocations are forbidden by the caller; the cursor only moves
// forward. The cursor is persisted unconditionally at the end.
func (sc *Scanner) Scan() (Report, error) {
	var rep Report

	current := newestTranscript(sc.dir)
	if current == "" {
		return rep, nil
	}
	rep.File = current

	cur := LoadCursor(sc.cursorPath)
	if cur.File != current {
		if cur.File != "" {
			if _, err := os.Stat(cur.File); os.IsNotExist(err) {
				// The tracked file vanished; point the cursor at the
				// current file and let the next scan read it.
				err := SaveCursor(sc.cursorPath, Cursor{File: current, Offset: 0})
				return rep, err
			}
		}
		cur = Cursor{File: current, Offset: 0}
	}

	lines, newOffset, err := sc.readChunk(current, cur.Offset)
	if err != nil {
		// The cursor's file may have vanished between listing and read;
		// reset to the current file so the next scan starts clean.
		if os.IsNotExist(err) {
			_ = SaveCursor(sc.cursorPath, Cursor{File: current, Offset: 0})
			return rep, nil
		}
		return rep, err
	}
	cur.Offset = newOffset

	var messages []Message
	for _, line := range lines {
		if m, ok := parseLine(line); ok && len(m.Text) >= minTextLen {
			messages = append(messages, m)
		}
	}
	rep.Messages = len(messages)

	window := messages
	if len(window) > maxClassified {
		window = window[:maxClassified]
	}

	for _, m := range window {
		inserted, err := sc.classifyAndCapture(m)
		if err != nil {
			slog.Debug("transcript classification skipped", "error", err)
			continue
		}
		if inserted {
			rep.Inserted++
		}
	}

	for _, m := range window {
		if m.Role != "user" {
			continue
		}
		inserted, err := sc.detectDirective(m)
		if err != nil {
			slog.Debug("directive detection skipped", "error", err)
			continue
		}
		if inserted {
			rep.PendingRules++
		}
	}

	// Debugging capture deliberately runs over the full message list,
	// not the classification window: the error that explains a
	// resolution can sit before the first 10 messages, and the pass is
	// regex-gated so only actual resolution matches cost an embedding.
	n, err := sc.captureDebugging(messages)
	if err != nil {
		slog.Debug("debugging capture skipped", "error", err)
	}
	rep.DebugPatterns = n

	if err := SaveCursor(sc.cursorPath, cur); err != nil {
		return rep, fmt.Errorf("persist cursor: %w", err)
	}
	return rep, nil
}

// readChunk reads up to maxChunk bytes from offset and splits complete
// lines. When the read stops short of EOF the new offset only advances
// to the last complete line.
func (sc *Scanner) readChunk(path string, offset int64) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if offset > fi.Size() {
		// Truncated or rotated in place; start over.
		offset = 0
	}
	if offset == fi.Size() {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}

	buf := make([]byte, maxChunk)
	n, err := io.ReadFull(f, buf)
	atEOF := err == io.ErrUnexpectedEOF || err == io.EOF
	if err != nil && !atEOF {
		return nil, offset, err
	}
	chunk := buf[:n]

	var consumed int64
	if atEOF {
		consumed = int64(n)
	} else {
		last := strings.LastIndexByte(string(chunk), '\n')
		if last < 0 {
			return nil, offset, nil
		}
		consumed = int64(last + 1)
		chunk = chunk[:last+1]
	}

	var lines []string
	for _, line := range strings.Split(string(chunk), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, offset + consumed, nil
}

// classifyAndCapture runs semantic classification on one message and
// inserts an insight entry unless it duplicates stored content.
func (sc *Scanner) classifyAndCapture(m Message) (bool, error) {
	set, threshold := embed.SetCategory, asstThreshold
	if m.Role == "user" {
		set, threshold = embed.SetIntent, userThreshold
	}

	cls, err := sc.emb.Classify(m.Text, set, threshold)
	if err != nil {
		return false, err
	}
	if cls == nil {
		return false, nil
	}

	v, err := sc.emb.Embed(m.Text)
	if err != nil {
		return false, err
	}
	dup, err := sc.isNearDuplicate(v)
	if err != nil || dup {
		return false, err
	}

	tags := []string{"transcript-scan", "source:" + m.Role, "intent:" + cls.Category}
	if err := sc.save(store.TypeInsight, m.Text, tags, store.TierWorking, v); err != nil {
		return false, err
	}
	return true, nil
}

// detectDirective promotes directive-like user messages to pending-rule
// proposals awaiting external confirmation.
func (sc *Scanner) detectDirective(m Message) (bool, error) {
	cls, err := sc.emb.Classify(m.Text, embed.SetAnchor, anchorThreshold)
	if err != nil {
		return false, err
	}
	if cls == nil {
		return false, nil
	}
	if !ScoreSignals(m.Text).PassesRuleGate() {
		return false, nil
	}

	v, err := sc.emb.Embed(m.Text)
	if err != nil {
		return false, err
	}

	known, err := sc.matchesExistingRule(v)
	if err != nil || known {
		return false, err
	}

	tags := []string{
		"pending_rule",
		"proposed-label:" + Slug(m.Text, 40),
		"anchor:" + cls.Category,
	}
	if err := sc.save(store.TypeInsight, m.Text, tags, store.TierWorking, v); err != nil {
		return false, err
	}
	return true, nil
}

// matchesExistingRule checks the proposal vector against saved rules and
// prior pending-rule proposals.
func (sc *Scanner) matchesExistingRule(v []float32) (bool, error) {
	rules, err := sc.store.ListRules()
	if err != nil {
		return false, err
	}
	for _, r := range rules {
		rv, err := sc.emb.Embed(r.Content)
		if err != nil {
			continue
		}
		if embed.Dot(v, rv) >= ruleDupCosine {
			return true, nil
		}
	}

	pending, err := sc.store.FindByTag("pending_rule")
	if err != nil {
		return false, err
	}
	for _, p := range pending {
		pv, err := sc.store.GetVec(p.RowID)
		if err != nil || pv == nil {
			continue
		}
		if embed.Dot(v, pv) >= ruleDupCosine {
			return true, nil
		}
	}
	return false, nil
}

// isNearDuplicate reports whether the nearest stored vector is within
// the duplicate distance.
func (sc *Scanner) isNearDuplicate(v []float32) (bool, error) {
	hits, err := sc.store.SearchVec(v, 1)
	if err != nil {
		return false, err
	}
	return len(hits) > 0 && hits[0].Distance < dupDistance, nil
}

// Slug derives a lowercase dash-separated label from the head of text.
func Slug(text string, maxSrc int) string {
	if len(text) > maxSrc {
		text = text[:maxSrc]
	}
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(sb.String(), "-")
}
