// Copyright Contributors to the Mellea project

package model

// RetentionResourceType names the kind of resource a RetentionPolicy
// applies to.
type RetentionResourceType string

const (
	ResourceArtifact    RetentionResourceType = "artifact"
	ResourceRun         RetentionResourceType = "run"
	ResourceEnvironment RetentionResourceType = "environment"
	ResourceLog         RetentionResourceType = "log"
)

// RetentionCondition names the predicate a RetentionPolicy evaluates.
type RetentionCondition string

const (
	ConditionAgeDays    RetentionCondition = "age_days"
	ConditionSizeBytes  RetentionCondition = "size_bytes"
	ConditionStatus     RetentionCondition = "status"
	ConditionUnusedDays RetentionCondition = "unused_days"
)

// RetentionPolicy is a user- or system-defined rule evaluated
// periodically by the Retention-Policy Controller.
type RetentionPolicy struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	ResourceType RetentionResourceType `json:"resource_type"`
	Condition    RetentionCondition    `json:"condition"`
	Threshold    int64                 `json:"threshold"`
	StatusValue  string                `json:"status_value,omitempty"`
	Enabled      bool                  `json:"enabled"`
	Priority     int                   `json:"priority"`
	UserID       *string               `json:"user_id,omitempty"`
}

// GetID implements store.Identifiable.
func (p RetentionPolicy) GetID() string { return p.ID }
