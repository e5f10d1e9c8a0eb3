package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths derives every on-disk location under the per-user base directory.
//
//	<base>/context/YYYY-MM-DD.md   entry source-of-record
//	<base>/db/store                durable index
//	<base>/db/.transcript-cursor   scanner cursor
//	<base>/db/.last-handoff        epoch-ms of last handoff
//	<base>/models/                 embedder model cache
//	<base>/sync/                   replication mirror + state
type Paths struct {
	Base string
}

// ResolveBase picks the base directory: explicit override, then
// $MNEMO_DIR, then ~/.mnemo.
func ResolveBase(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if v := os.Getenv("MNEMO_DIR"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".mnemo"), nil
}

func (p Paths) ContextDir() string       { return filepath.Join(p.Base, "context") }
func (p Paths) DayFile(ymd string) string { return filepath.Join(p.ContextDir(), ymd+".md") }
func (p Paths) DBDir() string            { return filepath.Join(p.Base, "db") }
func (p Paths) StoreFile() string        { return filepath.Join(p.DBDir(), "store") }
func (p Paths) CursorFile() string       { return filepath.Join(p.DBDir(), ".transcript-cursor") }
func (p Paths) LastHandoffFile() string  { return filepath.Join(p.DBDir(), ".last-handoff") }
func (p Paths) ModelsDir() string        { return filepath.Join(p.Base, "models") }
func (p Paths) SyncDir() string          { return filepath.Join(p.Base, "sync") }
func (p Paths) SyncStateFile() string    { return filepath.Join(p.SyncDir(), "state.json") }
func (p Paths) SyncMirror(machineID string) string {
	return filepath.Join(p.SyncDir(), machineID+".jsonl")
}
func (p Paths) ConfigFile() string { return filepath.Join(p.Base, "config.json5") }
func (p Paths) TemplatesFile() string { return filepath.Join(p.Base, "templates.yaml") }

// EnsureDirs creates every directory the engine writes into, mode 0700.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Base, p.ContextDir(), p.DBDir(), p.ModelsDir(), p.SyncDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}
