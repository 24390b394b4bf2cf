package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CurrentSchemaVersion is the current version of the state schema.
const CurrentSchemaVersion = 1

// DaemonState is the run state pushrouted publishes for the CLI.
// It is persisted to ~/.local/share/pushroute/state.json so `pushroute
// status` can report on a daemon that is no longer on the bus.
type DaemonState struct {
	PID       int   `json:"pid"`
	StartedAt int64 `json:"started_at"`
	StoppedAt int64 `json:"stopped_at,omitempty"`

	Delivered      uint64 `json:"delivered"`
	Clicked        uint64 `json:"clicked"`
	LastDeliveryAt int64  `json:"last_delivery_at,omitempty"`

	LastPruneAt      int64 `json:"last_prune_at,omitempty"`
	LastPruneRemoved int   `json:"last_prune_removed,omitempty"`

	SchemaVersion int `json:"schema_version"`
}

// stateFileMutex protects concurrent access to the state file within a process.
var stateFileMutex sync.RWMutex

// NewDaemonState returns the state of a daemon starting now.
func NewDaemonState() *DaemonState {
	return &DaemonState{
		PID:           os.Getpid(),
		StartedAt:     time.Now().Unix(),
		SchemaVersion: CurrentSchemaVersion,
	}
}

// Running reports whether the state describes a daemon that has not stopped.
func (s *DaemonState) Running() bool {
	return s.StartedAt > 0 && s.StoppedAt == 0
}

// RecordDelivery counts a delivered payload.
func (s *DaemonState) RecordDelivery() {
	s.Delivered++
	s.LastDeliveryAt = time.Now().Unix()
}

// RecordClick counts a routed click.
func (s *DaemonState) RecordClick() {
	s.Clicked++
}

// RecordPrune stores the outcome of a prune run.
func (s *DaemonState) RecordPrune(removed int) {
	s.LastPruneAt = time.Now().Unix()
	s.LastPruneRemoved = removed
}

// StatePath returns the path of the state file next to the history file.
func StatePath(historyPath string) string {
	return filepath.Join(filepath.Dir(historyPath), "state.json")
}

// LoadDaemonState loads the state file. A missing or corrupted file yields
// an empty state.
func LoadDaemonState(path string) (*DaemonState, error) {
	stateFileMutex.RLock()
	defer stateFileMutex.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &DaemonState{SchemaVersion: CurrentSchemaVersion}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return &DaemonState{SchemaVersion: CurrentSchemaVersion}, nil
	}
	if state.SchemaVersion == 0 {
		state.SchemaVersion = CurrentSchemaVersion
	}
	return &state, nil
}

// SaveDaemonState writes the state file atomically.
func SaveDaemonState(path string, state *DaemonState) error {
	stateFileMutex.Lock()
	defer stateFileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if state.SchemaVersion == 0 {
		state.SchemaVersion = CurrentSchemaVersion
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Rename(tmpPath, path)
}
