// Package daylog reads and writes the append-only per-day markdown files
// that serve as the entry source-of-record.
package daylog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ParsedEntry is one section recovered from a day file.
type ParsedEntry struct {
	ID      string
	Time    string
	Type    string
	Tags    []string
	Content string
}

var idCommentRe = regexp.MustCompile(`<!--\s*id:([a-z0-9]+)\s*-->`)

// Append writes one entry section to the day file for ymd, creating the
// file with its header on first write. Directories are created 0700.
func Append(path, ymd, hhmm, entryType string, tags []string, id, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open day file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	var sb strings.Builder
	if fi.Size() == 0 {
		fmt.Fprintf(&sb, "# Context Log: %s\n", ymd)
	}
	fmt.Fprintf(&sb, "\n## %s | %s | %s\n<!-- id:%s -->\n%s\n",
		hhmm, entryType, strings.Join(tags, ", "), id, content)

	if _, err := f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("append day file: %w", err)
	}
	return nil
}

// ParseFile reads a day file back into entries.
func ParseFile(path string) ([]ParsedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data)), nil
}

// Parse splits day-file text into entries. Sections are recognised by a
// leading "## "; the id comes from the comment marker and the header
// reconstructs time, type and tags.
func Parse(text string) []ParsedEntry {
	var out []ParsedEntry

	lines := strings.Split(text, "\n")
	var section []string
	flush := func() {
		if len(section) == 0 {
			return
		}
		if e, ok := parseSection(section); ok {
			out = append(out, e)
		}
		section = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
			section = []string{line}
			continue
		}
		if section != nil {
			section = append(section, line)
		}
	}
	flush()

	return out
}

func parseSection(lines []string) (ParsedEntry, bool) {
	var e ParsedEntry

	header := strings.TrimPrefix(lines[0], "## ")
	parts := strings.SplitN(header, "|", 3)
	if len(parts) < 2 {
		return e, false
	}
	e.Time = strings.TrimSpace(parts[0])
	e.Type = strings.TrimSpace(parts[1])
	if len(parts) == 3 {
		for _, t := range strings.Split(parts[2], ",") {
			if t = strings.TrimSpace(t); t != "" {
				e.Tags = append(e.Tags, t)
			}
		}
	}

	var body []string
	for _, line := range lines[1:] {
		if m := idCommentRe.FindStringSubmatch(line); m != nil {
			e.ID = m[1]
			continue
		}
		body = append(body, line)
	}
	e.Content = strings.TrimSpace(strings.Join(body, "\n"))

	if e.ID == "" || e.Content == "" {
		return e, false
	}
	return e, true
}
