package replicate

import (
	"encoding/json"
	"fmt"
	"os"
)

// State is the persisted replication state at <base>/sync/state.json.
type State struct {
	Config        StateConfig    `json:"config"`
	LastPushAt    string         `json:"last_push_at,omitempty"` // RFC 3339 UTC
	LastPullAt    string         `json:"last_pull_at,omitempty"`
	RemoteCursors map[string]int `json:"remote_cursors"`
}

// StateConfig identifies this host within the shared namespace.
type StateConfig struct {
	MachineID   string `json:"machine_id"`
	MachineName string `json:"machine_name"`
	Bucket      string `json:"bucket"`
	Prefix      string `json:"prefix,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// LoadState reads the state file; a missing file yields empty state.
func LoadState(path string) (*State, error) {
	st := &State{RemoteCursors: make(map[string]int)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse sync state: %w", err)
	}
	if st.RemoteCursors == nil {
		st.RemoteCursors = make(map[string]int)
	}
	return st, nil
}

// Save writes the state atomically.
func (st *State) Save(path string) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename sync state: %w", err)
	}
	return nil
}
