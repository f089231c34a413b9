package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stepbox/internal/wrapper"
)

// Result is the outcome of a build.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
	ResultAborted Result = "ABORTED"
)

// JobState is what stepbox remembers about a job between runs.
type JobState struct {
	SchemaVersion   string    `json:"schema_version"`
	Job             string    `json:"job"`
	NextBuildNumber int       `json:"next_build_number"`
	LastRunID       string    `json:"last_run_id,omitempty"`
	LastBuildNumber int       `json:"last_build_number,omitempty"`
	LastResult      Result    `json:"last_result,omitempty"`
	LastContainer   string    `json:"last_container,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

const (
	DefaultStateDir    = ".stepbox"
	StateSchemaVersion = "1.0"
)

// stateFile returns the state file of job under dir.
func stateFile(dir, job string) string {
	return filepath.Join(dir, wrapper.SanitizeName(job)+".state.json")
}

// loadState attempts to load the state of job from dir.
// Returns a fresh state if the file doesn't exist.
func loadState(dir, job string) (*JobState, error) {
	path := stateFile(dir, job)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newState(job), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state JobState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	if state.NextBuildNumber < 1 {
		state.NextBuildNumber = 1
	}
	return &state, nil
}

// saveState persists state under dir.
func saveState(dir string, state *JobState) error {
	state.LastUpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(stateFile(dir, state.Job), data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// newState creates the state of a job that never ran.
func newState(job string) *JobState {
	now := time.Now()
	return &JobState{
		SchemaVersion:   StateSchemaVersion,
		Job:             job,
		NextBuildNumber: 1,
		CreatedAt:       now,
		LastUpdatedAt:   now,
	}
}

// claimBuildNumber reserves the next build number.
func (s *JobState) claimBuildNumber() int {
	n := s.NextBuildNumber
	s.NextBuildNumber++
	return n
}

// record stores the outcome of a finished build.
func (s *JobState) record(runID string, number int, result Result, container string) {
	s.LastRunID = runID
	s.LastBuildNumber = number
	s.LastResult = result
	s.LastContainer = container
}
