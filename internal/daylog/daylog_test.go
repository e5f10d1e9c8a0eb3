package daylog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendAndParseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2026-02-20.md")

	type row struct {
		id, etype, content string
		tags               []string
	}
	rows := []row{
		{"aaa111", "decision", "PostgreSQL chosen for JSON support", []string{"db", "architecture"}},
		{"bbb222", "issue", "Auth tokens expire too quickly\nSecond line of detail", []string{"auth"}},
		{"ccc333", "insight", "Porter stemming folds plurals", nil},
	}

	for _, r := range rows {
		if err := Append(path, "2026-02-20", "14:05", r.etype, r.tags, r.id, r.content); err != nil {
			t.Fatalf("Append %s: %v", r.id, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read day file: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Context Log: 2026-02-20\n") {
		t.Errorf("missing header: %q", string(data)[:40])
	}

	parsed, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(parsed) != len(rows) {
		t.Fatalf("parsed %d entries, want %d", len(parsed), len(rows))
	}

	for i, r := range rows {
		p := parsed[i]
		if p.ID != r.id || p.Type != r.etype || p.Content != r.content {
			t.Errorf("entry %d = %+v, want %+v", i, p, r)
		}
		if len(p.Tags) != len(r.tags) {
			t.Errorf("entry %d tags = %v, want %v", i, p.Tags, r.tags)
			continue
		}
		for j := range r.tags {
			if p.Tags[j] != r.tags[j] {
				t.Errorf("entry %d tags = %v, want %v", i, p.Tags, r.tags)
				break
			}
		}
		if p.Time != "14:05" {
			t.Errorf("entry %d time = %s", i, p.Time)
		}
	}
}

func TestParseIgnoresMalformedSections(t *testing.T) {
	text := `# Context Log: 2026-02-20

## 10:00 | decision | db
<!-- id:good01 -->
A valid entry

## not a real header

## 11:00 | insight |
missing the id marker
`
	parsed := Parse(text)
	if len(parsed) != 1 || parsed[0].ID != "good01" {
		t.Errorf("parsed = %+v, want only good01", parsed)
	}
}

func TestHeaderOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.md")
	Append(path, "2026-02-20", "09:00", "progress", nil, "id0001", "first")
	Append(path, "2026-02-20", "09:30", "progress", nil, "id0002", "second")

	data, _ := os.ReadFile(path)
	if strings.Count(string(data), "# Context Log:") != 1 {
		t.Errorf("header repeated:\n%s", data)
	}
}
