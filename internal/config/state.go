package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const StateFile = ".launcher-state.json"

// State is the record of the last update cycle, persisted in the base
// directory.
type State struct {
	Branches map[string]BranchState `json:"branches"`
}

// BranchState is keyed by branch id.
type BranchState struct {
	LastFetched time.Time `json:"last_fetched,omitzero"`
	FileCount   int       `json:"file_count"`
	// Failed lists the manifest paths that did not download last cycle.
	Failed []string `json:"failed,omitempty"`
	// Error is the branch-level failure of the last cycle, if any.
	Error string `json:"error,omitempty"`
}

// LoadState reads the state from baseDir. A missing file yields an empty
// state.
func LoadState(baseDir string) (*State, error) {
	path := filepath.Join(baseDir, StateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Branches: make(map[string]BranchState)}, nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if state.Branches == nil {
		state.Branches = make(map[string]BranchState)
	}
	return &state, nil
}

// Save writes the state to baseDir.
func (s *State) Save(baseDir string) error {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("creating base directory: %w", err)
	}
	path := filepath.Join(baseDir, StateFile)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}
