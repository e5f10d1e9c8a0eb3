// Package config holds the engine configuration and the on-disk layout
// of the per-user base directory.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

// Config is the engine configuration, loaded from <base>/config.json5.
// Every field has a working default so a missing file is not an error.
type Config struct {
	// BaseDir overrides the per-user base directory.
	BaseDir string `json:"base_dir"`

	// Project is the current project label stamped on saved entries.
	Project string `json:"project"`

	// TranscriptDir is the directory of assistant conversation logs
	// scanned incrementally at turn end.
	TranscriptDir string `json:"transcript_dir"`

	// Sync configures cross-host replication over the shared object store.
	Sync SyncConfig `json:"sync"`

	// MaintenanceCron is a cron expression for scheduled maintenance in
	// server mode. Default runs daily.
	MaintenanceCron string `json:"maintenance_cron"`

	// Embedder selects the embedding model backend ("onnx" or "mock").
	Embedder EmbedderConfig `json:"embedder"`
}

// SyncConfig mirrors the replication half of the sync state.
type SyncConfig struct {
	Enabled   bool   `json:"enabled"`
	MachineID string `json:"machine_id"`
	Name      string `json:"machine_name"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	Region    string `json:"region"`
}

// EmbedderConfig selects and locates the local embedding model.
type EmbedderConfig struct {
	Backend       string `json:"backend"`
	ModelPath     string `json:"model_path"`
	TokenizerPath string `json:"tokenizer_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaintenanceCron: "0 4 * * *",
		Embedder:        EmbedderConfig{Backend: "onnx"},
	}
}

// Load reads and parses the config file at path. A missing file yields
// the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Embedder.Backend)) {
	case "", "onnx", "mock":
	default:
		return fmt.Errorf("unknown embedder backend %q", c.Embedder.Backend)
	}
	if c.Sync.Enabled && c.Sync.Bucket == "" {
		return fmt.Errorf("sync enabled but no bucket configured")
	}
	return nil
}
