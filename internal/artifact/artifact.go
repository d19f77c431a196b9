// Copyright Contributors to the Mellea project

// Package artifact implements the Artifact Collector (spec.md §4.7):
// run-produced files stored under a root directory with per-owner
// storage quotas and per-artifact retention clocks. File-handling
// conventions (path joining, os.Stat size checks) follow the teacher's
// collect_outputs.go sidecar's workspace-relative path style.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

// Collector owns the Artifact and ArtifactUsage stores plus the
// filesystem tree under root.
type Collector struct {
	artifacts *store.Store[model.Artifact]
	usage     *store.Store[model.ArtifactUsage]
	root      string
	defaultRetentionDays int
	maxSingleSizeMB      int64
	log                  logr.Logger
}

// New constructs an Artifact Collector rooted at artifactsRoot.
func New(artifacts *store.Store[model.Artifact], usage *store.Store[model.ArtifactUsage], artifactsRoot string, defaultRetentionDays int, maxSingleSizeMB int64, log logr.Logger) *Collector {
	return &Collector{
		artifacts:            artifacts,
		usage:                usage,
		root:                 artifactsRoot,
		defaultRetentionDays: defaultRetentionDays,
		maxSingleSizeMB:      maxSingleSizeMB,
		log:                  log.WithName("artifact"),
	}
}

// Content is the source a caller hands CollectArtifact: either an
// existing file on disk or raw bytes already in memory.
type Content struct {
	SourcePath string
	Bytes      []byte
}

func (c Content) size() (int64, error) {
	if c.SourcePath != "" {
		info, err := os.Stat(c.SourcePath)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
	return int64(len(c.Bytes)), nil
}

func (c Content) reader() (io.ReadCloser, error) {
	if c.SourcePath != "" {
		return os.Open(c.SourcePath)
	}
	return io.NopCloser(strings.NewReader(string(c.Bytes))), nil
}

// CollectArtifact stores content as a new Artifact for runID/ownerID,
// enforcing the single-file size limit and the owner's storage quota
// before any bytes are written (spec.md §4.7 steps 1-8).
func (c *Collector) CollectArtifact(runID, ownerID string, content Content, name string, quotas model.UserQuotas, artifactType string, tags []string, metadata map[string]string, retentionDays int) (model.Artifact, error) {
	size, err := content.size()
	if err != nil {
		return model.Artifact{}, errs.Wrap(errs.KindNotFound, err, "stat artifact content")
	}

	if c.maxSingleSizeMB > 0 && size > c.maxSingleSizeMB*1024*1024 {
		return model.Artifact{}, errs.Newf(errs.KindArtifactTooLarge, "artifact %q is %d bytes, exceeds single-file limit of %d MiB", name, size, c.maxSingleSizeMB).
			WithContext("size_bytes", size).WithContext("limit_mb", c.maxSingleSizeMB)
	}

	current := c.currentUsage(ownerID)
	limitBytes := quotas.MaxStorageMB * 1024 * 1024
	if current.TotalBytes+size > limitBytes {
		return model.Artifact{}, errs.Newf(errs.KindQuotaExceeded, "owner %s quota exceeded", ownerID).
			WithContext("current_bytes", current.TotalBytes).
			WithContext("requested_bytes", size).
			WithContext("limit_bytes", limitBytes)
	}

	checksum, err := c.checksum(content)
	if err != nil {
		return model.Artifact{}, errs.Wrap(errs.KindNotFound, err, "checksum artifact content")
	}

	id := model.NewID()
	storagePath := model.ArtifactStoragePath(runID, id, name)
	fullPath := filepath.Join(c.root, storagePath)
	if err := c.writeContent(content, fullPath); err != nil {
		return model.Artifact{}, errs.Wrap(errs.KindNotFound, err, "write artifact content")
	}

	days := retentionDays
	if days == 0 {
		days = c.defaultRetentionDays
	}
	var expiresAt *time.Time
	if days > 0 {
		t := time.Now().AddDate(0, 0, days)
		expiresAt = &t
	}

	a := model.Artifact{
		ID:           id,
		RunID:        runID,
		OwnerID:      ownerID,
		Name:         name,
		ArtifactType: artifactType,
		SizeBytes:    size,
		StoragePath:  storagePath,
		Checksum:     checksum,
		Tags:         tags,
		Metadata:     metadata,
		CreatedAt:    time.Now(),
		ExpiresAt:    expiresAt,
	}
	if err := c.artifacts.Create(a); err != nil {
		return model.Artifact{}, err
	}
	c.bumpUsage(ownerID, size, 1)
	return a, nil
}

func (c *Collector) checksum(content Content) (string, error) {
	r, err := content.reader()
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Collector) writeContent(content Content, fullPath string) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	r, err := content.reader()
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}

// GetArtifact returns the Artifact metadata for id.
func (c *Collector) GetArtifact(id string) (model.Artifact, error) {
	return c.artifacts.Get(id)
}

// GetArtifactPath returns the absolute filesystem path for id's content.
func (c *Collector) GetArtifactPath(id string) (string, error) {
	a, err := c.artifacts.Get(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.root, a.StoragePath), nil
}

// GetArtifactContent reads and returns the full content of id.
func (c *Collector) GetArtifactContent(id string) ([]byte, error) {
	path, err := c.GetArtifactPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, err, "read artifact content "+id)
	}
	return data, nil
}

// ListArtifacts filters artifacts by the supplied criteria, ANDed
// together; a non-empty tags filter requires every listed tag present.
func (c *Collector) ListArtifacts(ownerID, runID, artifactType string, tags []string) []model.Artifact {
	return c.artifacts.Find(func(a model.Artifact) bool {
		if ownerID != "" && a.OwnerID != ownerID {
			return false
		}
		if runID != "" && a.RunID != runID {
			return false
		}
		if artifactType != "" && a.ArtifactType != artifactType {
			return false
		}
		for _, tag := range tags {
			if !containsString(a.Tags, tag) {
				return false
			}
		}
		return true
	})
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// DeleteArtifact removes an artifact's file and metadata, best-effort
// cleaning up now-empty parent directories, and decrements owner usage.
func (c *Collector) DeleteArtifact(id string) error {
	a, err := c.artifacts.Get(id)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(c.root, a.StoragePath)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindNotFound, err, "remove artifact content "+id)
	}
	removeEmptyParents(filepath.Dir(fullPath), c.root)

	if err := c.artifacts.Delete(id); err != nil {
		return err
	}
	c.bumpUsage(a.OwnerID, -a.SizeBytes, -1)
	return nil
}

// removeEmptyParents walks upward from dir removing empty directories,
// stopping at (and never removing) root.
func removeEmptyParents(dir, root string) {
	for dir != root && strings.HasPrefix(dir, root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// DeleteArtifactsForRun bulk-deletes every artifact for runID and
// removes the run's directory tree.
func (c *Collector) DeleteArtifactsForRun(runID string) error {
	for _, a := range c.artifacts.Find(func(a model.Artifact) bool { return a.RunID == runID }) {
		if err := c.DeleteArtifact(a.ID); err != nil {
			c.log.Error(err, "failed to delete artifact during run cleanup", "artifact_id", a.ID, "run_id", runID)
		}
	}
	_ = os.RemoveAll(filepath.Join(c.root, runID))
	return nil
}

// RecalculateUserUsage rescans every artifact owned by userID and
// overwrites its ArtifactUsage record.
func (c *Collector) RecalculateUserUsage(userID string) model.ArtifactUsage {
	owned := c.artifacts.Find(func(a model.Artifact) bool { return a.OwnerID == userID })
	var total int64
	for _, a := range owned {
		total += a.SizeBytes
	}
	u := model.ArtifactUsage{OwnerID: userID, TotalBytes: total, ArtifactCount: int64(len(owned)), LastUpdated: time.Now()}
	c.putUsage(u)
	return u
}

// CleanupExpiredArtifacts deletes every artifact whose expires_at has
// passed, returning the count removed.
func (c *Collector) CleanupExpiredArtifacts() int {
	now := time.Now()
	expired := c.artifacts.Find(func(a model.Artifact) bool { return a.ExpiresAt != nil && a.ExpiresAt.Before(now) })
	removed := 0
	for _, a := range expired {
		if err := c.DeleteArtifact(a.ID); err != nil {
			c.log.Error(err, "failed to delete expired artifact", "artifact_id", a.ID)
			continue
		}
		removed++
	}
	return removed
}

func (c *Collector) currentUsage(ownerID string) model.ArtifactUsage {
	u, err := c.usage.Get(ownerID)
	if err != nil {
		return model.ArtifactUsage{OwnerID: ownerID}
	}
	return u
}

// bumpUsage adjusts owner's usage by delta bytes/count, clamping both
// fields at zero per spec.md §4.7's monotonicity invariant.
func (c *Collector) bumpUsage(ownerID string, deltaBytes, deltaCount int64) {
	u := c.currentUsage(ownerID)
	u.TotalBytes = clampNonNegative(u.TotalBytes + deltaBytes)
	u.ArtifactCount = clampNonNegative(u.ArtifactCount + deltaCount)
	u.LastUpdated = time.Now()
	c.putUsage(u)
}

func clampNonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func (c *Collector) putUsage(u model.ArtifactUsage) {
	if _, err := c.usage.Get(u.OwnerID); err == nil {
		_ = c.usage.Update(u.OwnerID, u)
		return
	}
	_ = c.usage.Create(u)
}
