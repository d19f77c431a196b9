// Copyright Contributors to the Mellea project

package model

import "time"

// EnvironmentStatus is a state in the Environment lifecycle (spec §4.5).
type EnvironmentStatus string

const (
	EnvironmentCreating EnvironmentStatus = "CREATING"
	EnvironmentReady    EnvironmentStatus = "READY"
	EnvironmentStarting EnvironmentStatus = "STARTING"
	EnvironmentRunning  EnvironmentStatus = "RUNNING"
	EnvironmentStopping EnvironmentStatus = "STOPPING"
	EnvironmentStopped  EnvironmentStatus = "STOPPED"
	EnvironmentFailed   EnvironmentStatus = "FAILED"
	EnvironmentDeleting EnvironmentStatus = "DELETING"
)

// ResourceLimits bounds a single Environment's container.
type ResourceLimits struct {
	CPUCores       float64 `json:"cpu_cores"`
	MemoryMB       int64   `json:"memory_mb"`
	TimeoutSeconds int64   `json:"timeout_seconds"`
}

// Environment is a logical container sandbox bound to a program image.
type Environment struct {
	ID             string            `json:"id"`
	ProgramID      string            `json:"program_id"`
	ImageTag       string            `json:"image_tag"`
	ContainerID    string            `json:"container_id,omitempty"`
	ResourceLimits ResourceLimits    `json:"resource_limits"`
	Status         EnvironmentStatus `json:"status"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	StoppedAt      *time.Time        `json:"stopped_at,omitempty"`
}

// GetID implements store.Identifiable.
func (e Environment) GetID() string { return e.ID }
