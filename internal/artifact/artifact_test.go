// Copyright Contributors to the Mellea project

package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

func newTestCollector(t *testing.T, maxSingleSizeMB int64) *Collector {
	t.Helper()
	dir := t.TempDir()
	artifacts, err := store.New[model.Artifact](filepath.Join(dir, "artifacts.json"), "artifacts")
	if err != nil {
		t.Fatalf("store.New(artifacts): %v", err)
	}
	usage, err := store.New[model.ArtifactUsage](filepath.Join(dir, "usage.json"), "usage")
	if err != nil {
		t.Fatalf("store.New(usage): %v", err)
	}
	return New(artifacts, usage, filepath.Join(dir, "blobs"), 30, maxSingleSizeMB, logr.Discard())
}

func TestCollectArtifact_StoresContentAndUpdatesUsage(t *testing.T) {
	c := newTestCollector(t, 0)

	a, err := c.CollectArtifact("run-1", "owner-1", Content{Bytes: []byte("hello")}, "out.txt",
		model.UserQuotas{MaxStorageMB: 1}, "text", []string{"log"}, nil, 0)
	if err != nil {
		t.Fatalf("CollectArtifact: %v", err)
	}
	if a.SizeBytes != 5 {
		t.Errorf("SizeBytes = %d, want 5", a.SizeBytes)
	}

	content, err := c.GetArtifactContent(a.ID)
	if err != nil {
		t.Fatalf("GetArtifactContent: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("content = %q, want %q", content, "hello")
	}

	usage := c.currentUsage("owner-1")
	if usage.TotalBytes != 5 || usage.ArtifactCount != 1 {
		t.Errorf("usage = %+v, want TotalBytes=5 ArtifactCount=1", usage)
	}
}

func TestCollectArtifact_RejectsOversizedSingleFile(t *testing.T) {
	c := newTestCollector(t, 0) // max single size disabled unless > 0
	c.maxSingleSizeMB = 1

	big := make([]byte, 2*1024*1024)
	_, err := c.CollectArtifact("run-1", "owner-1", Content{Bytes: big}, "big.bin",
		model.UserQuotas{MaxStorageMB: 100}, "binary", nil, nil, 0)
	if err == nil {
		t.Fatal("expected an oversized single file to be rejected")
	}
}

func TestCollectArtifact_RejectsQuotaExceeded(t *testing.T) {
	c := newTestCollector(t, 0)

	quotas := model.UserQuotas{MaxStorageMB: 0} // zero-byte budget
	_, err := c.CollectArtifact("run-1", "owner-1", Content{Bytes: []byte("x")}, "out.txt",
		quotas, "text", nil, nil, 0)
	if err == nil {
		t.Fatal("expected a quota-exceeding artifact to be rejected")
	}
}

func TestDeleteArtifact_RemovesFileAndDecrementsUsage(t *testing.T) {
	c := newTestCollector(t, 0)

	a, err := c.CollectArtifact("run-1", "owner-1", Content{Bytes: []byte("hello")}, "out.txt",
		model.UserQuotas{MaxStorageMB: 1}, "text", nil, nil, 0)
	if err != nil {
		t.Fatalf("CollectArtifact: %v", err)
	}

	path, err := c.GetArtifactPath(a.ID)
	if err != nil {
		t.Fatalf("GetArtifactPath: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected artifact content to exist on disk: %v", err)
	}

	if err := c.DeleteArtifact(a.ID); err != nil {
		t.Fatalf("DeleteArtifact: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected artifact content to be removed from disk")
	}

	usage := c.currentUsage("owner-1")
	if usage.TotalBytes != 0 || usage.ArtifactCount != 0 {
		t.Errorf("usage after delete = %+v, want zeroed", usage)
	}
}

func TestListArtifacts_FiltersByOwnerRunTypeAndTags(t *testing.T) {
	c := newTestCollector(t, 0)
	quotas := model.UserQuotas{MaxStorageMB: 10}

	_, _ = c.CollectArtifact("run-1", "owner-1", Content{Bytes: []byte("a")}, "a.txt", quotas, "log", []string{"debug"}, nil, 0)
	_, _ = c.CollectArtifact("run-2", "owner-1", Content{Bytes: []byte("b")}, "b.txt", quotas, "result", nil, nil, 0)
	_, _ = c.CollectArtifact("run-1", "owner-2", Content{Bytes: []byte("c")}, "c.txt", quotas, "log", nil, nil, 0)

	got := c.ListArtifacts("owner-1", "", "", nil)
	if len(got) != 2 {
		t.Errorf("ListArtifacts(owner-1) returned %d, want 2", len(got))
	}

	got = c.ListArtifacts("owner-1", "run-1", "", nil)
	if len(got) != 1 {
		t.Errorf("ListArtifacts(owner-1, run-1) returned %d, want 1", len(got))
	}

	got = c.ListArtifacts("", "", "", []string{"debug"})
	if len(got) != 1 {
		t.Errorf("ListArtifacts(tags=debug) returned %d, want 1", len(got))
	}
}

func TestDeleteArtifactsForRun_RemovesAllMatchingArtifacts(t *testing.T) {
	c := newTestCollector(t, 0)
	quotas := model.UserQuotas{MaxStorageMB: 10}

	a1, _ := c.CollectArtifact("run-1", "owner-1", Content{Bytes: []byte("a")}, "a.txt", quotas, "log", nil, nil, 0)
	a2, _ := c.CollectArtifact("run-1", "owner-1", Content{Bytes: []byte("b")}, "b.txt", quotas, "log", nil, nil, 0)
	a3, _ := c.CollectArtifact("run-2", "owner-1", Content{Bytes: []byte("c")}, "c.txt", quotas, "log", nil, nil, 0)

	if err := c.DeleteArtifactsForRun("run-1"); err != nil {
		t.Fatalf("DeleteArtifactsForRun: %v", err)
	}

	if _, err := c.GetArtifact(a1.ID); err == nil {
		t.Error("expected run-1 artifact a1 to be deleted")
	}
	if _, err := c.GetArtifact(a2.ID); err == nil {
		t.Error("expected run-1 artifact a2 to be deleted")
	}
	if _, err := c.GetArtifact(a3.ID); err != nil {
		t.Error("expected run-2 artifact a3 to survive")
	}
}
