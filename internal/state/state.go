// Package state persists a pointer to the active run so an interrupted
// process can be detected and resumed on the next start.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kylegalloway/kodo/internal/fsutil"
)

// RunState is the crash-recovery record for the run in progress.
type RunState struct {
	RunID      string    `json:"run_id"`
	Goal       string    `json:"goal"`
	ProjectDir string    `json:"project_dir"`
	LogPath    string    `json:"log_path"`
	Staged     bool      `json:"staged"`
	Cycle      int       `json:"cycle"`
	StageIndex int       `json:"stage_index"`
	Exchanges  int       `json:"exchanges"`
	CostUSD    float64   `json:"cost_usd"`
	StartTime  time.Time `json:"start_time"`
	LastSave   time.Time `json:"last_save"`
}

// Manager handles crash recovery state persistence.
type Manager struct {
	path string
}

// NewManager creates a state Manager rooted at the project's .kodo dir.
func NewManager(kodoDir string) *Manager {
	return &Manager{
		path: filepath.Join(kodoDir, "state.json"),
	}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// Save persists the run state atomically.
func (m *Manager) Save(state *RunState) error {
	state.LastSave = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(m.path, data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Load reads the persisted run state.
func (m *Manager) Load() (*RunState, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}

	return &state, nil
}

// Exists returns true if a recovery state file exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Remove deletes the state file after a run finishes.
func (m *Manager) Remove() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}
