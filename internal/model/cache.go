// Copyright Contributors to the Mellea project

package model

import "time"

// LayerCacheEntry records a built dependency layer, keyed by the
// canonical DependencySpec hash. At most one entry exists per CacheKey.
type LayerCacheEntry struct {
	ID                 string    `json:"id"`
	CacheKey           string    `json:"cache_key"`
	ImageTag           string    `json:"image_tag"`
	InterpreterVersion string    `json:"interpreter_version"`
	PackageCount       int       `json:"package_count"`
	SizeBytes          *int64    `json:"size_bytes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	LastUsedAt         time.Time `json:"last_used_at"`
	UseCount           int64     `json:"use_count"`
}

// GetID implements store.Identifiable.
func (l LayerCacheEntry) GetID() string { return l.ID }
