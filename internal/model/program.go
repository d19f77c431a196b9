// Copyright Contributors to the Mellea project

package model

import "time"

// ImageBuildStatus tracks where a ProgramAsset's image build has gotten to.
type ImageBuildStatus string

const (
	ImageBuildPending  ImageBuildStatus = "pending"
	ImageBuildBuilding ImageBuildStatus = "building"
	ImageBuildReady    ImageBuildStatus = "ready"
	ImageBuildFailed   ImageBuildStatus = "failed"
)

// ProgramAsset is read by the core and mutated by the external
// collaborator (which owns authentication, project layout, and GitHub
// import); no code in the core writes a ProgramAsset, its image-build
// status included.
type ProgramAsset struct {
	ID                string           `json:"id"`
	OwnerID           string           `json:"owner_id"`
	Entrypoint        string           `json:"entrypoint"`
	ProjectRoot       string           `json:"project_root"`
	Dependencies      DependencySpec   `json:"dependencies"`
	ImageTag          string           `json:"image_tag,omitempty"`
	ImageBuildStatus  ImageBuildStatus `json:"image_build_status"`
	ImageBuildError   string           `json:"image_build_error,omitempty"`
	LastRunAt         *time.Time       `json:"last_run_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// GetID implements store.Identifiable.
func (p ProgramAsset) GetID() string { return p.ID }
