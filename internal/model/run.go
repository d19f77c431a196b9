// Copyright Contributors to the Mellea project

package model

import "time"

// RunStatus is a state in the Run lifecycle (spec §4.6).
type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunStarting  RunStatus = "STARTING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether status has no further allowed transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Run is a single execution of a program inside an Environment.
type Run struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environment_id"`
	ProgramID     string     `json:"program_id"`
	CredentialIDs []string   `json:"credential_ids,omitempty"`
	JobName       string     `json:"job_name,omitempty"`
	Status        RunStatus  `json:"status"`
	ExitCode      *int32     `json:"exit_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	OutputPath    string     `json:"output_path,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// GetID implements store.Identifiable.
func (r Run) GetID() string { return r.ID }
