// Copyright Contributors to the Mellea project

package model

import (
	"fmt"
	"time"
)

// Artifact is a run-produced file tracked with a per-owner retention
// clock. storage_path is unique and its existence tracks 1:1 with the
// presence of this metadata record.
type Artifact struct {
	ID           string            `json:"id"`
	RunID        string            `json:"run_id"`
	OwnerID      string            `json:"owner_id"`
	Name         string            `json:"name"`
	ArtifactType string            `json:"artifact_type,omitempty"`
	SizeBytes    int64             `json:"size_bytes"`
	StoragePath  string            `json:"storage_path"`
	Checksum     string            `json:"checksum"`
	MimeType     string            `json:"mime_type,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
}

// ArtifactStoragePath builds the relative on-disk path for an artifact,
// matching the spec.md §3 invariant exactly: "{run_id}/{artifact_id}/{name}".
func ArtifactStoragePath(runID, artifactID, name string) string {
	return fmt.Sprintf("%s/%s/%s", runID, artifactID, name)
}

// ArtifactUsage is the per-owner aggregate storage accounting record.
type ArtifactUsage struct {
	OwnerID        string    `json:"owner_id"`
	TotalBytes     int64     `json:"total_bytes"`
	ArtifactCount  int64     `json:"artifact_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// UserQuotas bounds a single owner's artifact storage.
type UserQuotas struct {
	MaxStorageMB int64 `json:"max_storage_mb"`
}

// GetID implements store.Identifiable.
func (a Artifact) GetID() string { return a.ID }

// GetID implements store.Identifiable, keyed by owner since usage is a
// per-owner aggregate rather than an independently-identified entity.
func (u ArtifactUsage) GetID() string { return u.OwnerID }
