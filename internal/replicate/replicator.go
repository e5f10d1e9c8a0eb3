package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/embed"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// maxPayload caps the uploaded log size.
const maxPayload = 10 << 20

// Object-store layout.
const (
	entriesPrefix = "entries/"
	manifestKey   = "manifest.json"
)

// wireEntry is the cross-host line format. Provenance and per-host
// derived fields are stripped; embeddings are never synced.
type wireEntry struct {
	ID        string   `json:"id"`
	Date      string   `json:"date"`
	Time      string   `json:"time"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags"`
	Content   string   `json:"content"`
	Tier      string   `json:"tier"`
	Pinned    bool     `json:"pinned"`
	Project   string   `json:"project,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	AgentID   string   `json:"agentId,omitempty"`
}

type manifest struct {
	Version  int                        `json:"version"`
	Machines map[string]manifestEntry   `json:"machines"`
}

type manifestEntry struct {
	Name string `json:"name"`
}

// Replicator pushes this host's appends and pulls the other hosts' logs.
type Replicator struct {
	store      *store.Store
	emb        *embed.Embedder
	blob       BlobStore
	clk        *clock.Clock
	statePath  string
	mirrorPath string
	machineID  string
	name       string
}

// New creates a Replicator. mirrorPath is the local cache of this host's
// own outbound log.
func New(s *store.Store, emb *embed.Embedder, blob BlobStore, clk *clock.Clock,
	statePath, mirrorPath, machineID, name string) *Replicator {
	return &Replicator{
		store: s, emb: emb, blob: blob, clk: clk,
		statePath: statePath, mirrorPath: mirrorPath,
		machineID: machineID, name: name,
	}
}

// Cycle runs push then pull. Failure of one does not block the other;
// both errors are surfaced together.
func (r *Replicator) Cycle(ctx context.Context) error {
	var errs []string
	if err := r.Push(ctx); err != nil {
		errs = append(errs, "push: "+err.Error())
	}
	if err := r.Pull(ctx); err != nil {
		errs = append(errs, "pull: "+err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Push appends entries newer than the last push to this host's log and
// uploads the whole cached log with an optimistic version check.
func (r *Replicator) Push(ctx context.Context) error {
	st, err := LoadState(r.statePath)
	if err != nil {
		return err
	}

	entries, err := r.store.List(store.SearchOptions{})
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	var cutoff time.Time
	if st.LastPushAt != "" {
		cutoff, _ = time.Parse(time.RFC3339, st.LastPushAt)
	}

	cache, pushed := r.readMirror()

	var appended int
	for _, e := range entries {
		if pushed[e.ID] {
			continue
		}
		if !cutoff.IsZero() && !entryTime(e).After(cutoff) {
			continue
		}
		line, err := json.Marshal(wireEntry{
			ID: e.ID, Date: e.Date, Time: e.Time, Type: e.Type,
			Tags: e.Tags, Content: e.Content, Tier: e.Tier, Pinned: e.Pinned,
			Project: e.Project, SessionID: e.SessionID, AgentID: e.AgentID,
		})
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.ID, err)
		}
		cache = append(cache, line...)
		cache = append(cache, '\n')
		pushed[e.ID] = true
		appended++
	}

	if len(cache) > maxPayload {
		return fmt.Errorf("outbound log %d bytes exceeds %d byte cap", len(cache), maxPayload)
	}

	if appended > 0 {
		if err := os.WriteFile(r.mirrorPath, cache, 0600); err != nil {
			return fmt.Errorf("write mirror: %w", err)
		}

		key := entriesPrefix + r.machineID + ".jsonl"
		_, version, err := r.blob.Get(ctx, key)
		if err != nil && err != ErrBlobNotFound {
			return fmt.Errorf("head own log: %w", err)
		}
		if err := r.blob.Put(ctx, key, cache, version); err != nil {
			return fmt.Errorf("upload log: %w", err)
		}

		if err := r.ensureManifest(ctx); err != nil {
			slog.Warn("manifest update failed", "error", err)
		}
		slog.Debug("pushed entries", "appended", appended, "bytes", len(cache))
	}

	st.LastPushAt = r.clk.NowUTC().Format(time.RFC3339)
	return st.Save(r.statePath)
}

// Pull fetches every other host's log, skips lines already consumed, and
// inserts unseen entries. Embedding failures leave the row lexical-only.
func (r *Replicator) Pull(ctx context.Context) error {
	st, err := LoadState(r.statePath)
	if err != nil {
		return err
	}

	keys, err := r.blob.List(ctx, entriesPrefix)
	if err != nil {
		return fmt.Errorf("list remote logs: %w", err)
	}

	for _, key := range keys {
		mid := strings.TrimSuffix(path.Base(key), ".jsonl")
		if mid == "" || mid == r.machineID {
			continue
		}

		data, _, err := r.blob.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", key, err)
		}

		lines := splitLines(data)
		skip := st.RemoteCursors[mid]
		if skip > len(lines) {
			skip = 0 // remote log rewritten; replay from the start, dedup by id
		}

		for _, line := range lines[skip:] {
			var w wireEntry
			if err := json.Unmarshal([]byte(line), &w); err != nil {
				slog.Warn("skipping malformed sync line", "machine", mid, "error", err)
				continue
			}
			if err := r.adopt(w); err != nil {
				return fmt.Errorf("adopt entry %s from %s: %w", w.ID, mid, err)
			}
		}

		st.RemoteCursors[mid] = len(lines)
	}

	st.LastPullAt = r.clk.NowUTC().Format(time.RFC3339)
	return st.Save(r.statePath)
}

// adopt inserts one pulled entry unless it is already present, then
// attaches a vector on a best-effort basis.
func (r *Replicator) adopt(w wireEntry) error {
	has, err := r.store.HasEntry(w.ID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	rowID, err := r.store.Insert(store.Entry{
		ID: w.ID, Date: w.Date, Time: w.Time, Type: w.Type,
		Tags: w.Tags, Content: w.Content, SourceFile: "sync",
		Tier: store.AssignTier(w.Type, w.Tier), Pinned: w.Pinned,
		Project: w.Project, SessionID: w.SessionID, AgentID: w.AgentID,
	})
	if err != nil {
		return err
	}

	if r.emb != nil {
		if v, err := r.emb.Embed(w.Content); err != nil {
			slog.Debug("pull embedding failed", "id", w.ID, "error", err)
		} else if err := r.store.InsertVec(rowID, v); err != nil {
			slog.Debug("pull vector insert failed", "id", w.ID, "error", err)
		}
	}
	return nil
}

// ensureManifest registers this machine in the shared manifest.
func (r *Replicator) ensureManifest(ctx context.Context) error {
	data, version, err := r.blob.Get(ctx, manifestKey)
	m := manifest{Version: 1, Machines: make(map[string]manifestEntry)}
	switch err {
	case nil:
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
		if m.Machines == nil {
			m.Machines = make(map[string]manifestEntry)
		}
	case ErrBlobNotFound:
	default:
		return err
	}

	if existing, ok := m.Machines[r.machineID]; ok && existing.Name == r.name {
		return nil
	}
	m.Machines[r.machineID] = manifestEntry{Name: r.name}

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return r.blob.Put(ctx, manifestKey, out, version)
}

func (r *Replicator) readMirror() ([]byte, map[string]bool) {
	pushed := make(map[string]bool)
	data, err := os.ReadFile(r.mirrorPath)
	if err != nil {
		return nil, pushed
	}
	for _, line := range splitLines(data) {
		var w struct {
			ID string `json:"id"`
		}
		if json.Unmarshal([]byte(line), &w) == nil && w.ID != "" {
			pushed[w.ID] = true
		}
	}
	return data, pushed
}

func entryTime(e store.Entry) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", e.Date+" "+e.Time, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func splitLines(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
