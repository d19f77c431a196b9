// Copyright Contributors to the Mellea project

package model

import "time"

// JobStatus is the status derivation result shared by run Jobs and Kaniko
// build Jobs (spec §4.2: "same policy for Kaniko build jobs").
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobInfo is the Kubernetes Adapter's status view over a run Job.
type JobInfo struct {
	Name           string     `json:"name"`
	Namespace      string     `json:"namespace"`
	Status         JobStatus  `json:"status"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	PodName        string     `json:"pod_name,omitempty"`
	ExitCode       *int32     `json:"exit_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// BuildJob is the status view over a Kaniko build Job.
type BuildJob struct {
	JobName      string     `json:"job_name"`
	ProgramID    string     `json:"program_id"`
	ImageTag     string     `json:"image_tag"`
	Status       JobStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// BuildResult is the outcome of a Build/Cache Engine BuildImage call.
type BuildResult struct {
	Success                     bool    `json:"success"`
	ImageTag                    string  `json:"image_tag,omitempty"`
	CacheHit                    bool    `json:"cache_hit"`
	BuildJobName                string  `json:"build_job_name,omitempty"`
	ErrorMessage                string  `json:"error_message,omitempty"`
	TotalDurationSeconds        float64 `json:"total_duration_seconds"`
	DepsBuildDurationSeconds    float64 `json:"deps_build_duration_seconds"`
	ProgramBuildDurationSeconds float64 `json:"program_build_duration_seconds"`
}

// BuildStage names a step of the BuildImage algorithm (spec §4.4).
type BuildStage string

const (
	StagePreparing      BuildStage = "PREPARING"
	StageBuildingDeps    BuildStage = "BUILDING_DEPS"
	StageBuildingProgram BuildStage = "BUILDING_PROGRAM"
)

// BuildContext records the in-flight stage of a BuildImage call, mostly
// useful for logging and tests asserting on stage progression.
type BuildContext struct {
	Stage    BuildStage
	CacheKey string
}
