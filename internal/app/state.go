package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jobrunner/internal/runner"
)

const StateSchemaVersion = "1.0"

// ExecutionState is the local record of one job run. It stays on the
// machine and is never sent to the backend.
type ExecutionState struct {
	SchemaVersion string       `json:"schema_version"`
	RunID         string       `json:"run_id"`
	JobName       string       `json:"job_name"`
	JobID         string       `json:"job_id"`
	Phase         runner.Phase `json:"phase"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
}

// loadState reads a state file. Returns nil if the file doesn't exist.
func loadState(path string) (*ExecutionState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state ExecutionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	return &state, nil
}

// saveState persists the execution state to path.
func saveState(path string, state *ExecutionState) error {
	state.LastUpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// newState creates the state of a fresh run.
func newState(jobName, runID string) *ExecutionState {
	now := time.Now()
	return &ExecutionState{
		SchemaVersion: StateSchemaVersion,
		RunID:         runID,
		JobName:       jobName,
		JobID:         jobName,
		Phase:         runner.PhaseBooting,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// record applies a phase transition.
func (s *ExecutionState) record(tr runner.Transition) {
	s.Phase = tr.To
	s.JobID = tr.JobID
	if tr.Err != nil {
		s.FailureReason = tr.Err.Error()
	}
}
