// Copyright Contributors to the Mellea project

package retention

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/artifact"
	"github.com/mellea/controlplane/internal/environment"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/run"
	"github.com/mellea/controlplane/internal/store"
)

type fixture struct {
	controller *Controller
	artifacts  *artifact.Collector
	artifactDocs *store.Store[model.Artifact]
	runs       *run.Service
	runStore   *store.Store[model.Run]
	envs       *environment.Service
	policies   *store.Store[model.RetentionPolicy]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	artifactDocs, err := store.New[model.Artifact](filepath.Join(dir, "artifacts.json"), "artifacts")
	if err != nil {
		t.Fatalf("store.New(artifacts): %v", err)
	}
	usageStore, err := store.New[model.ArtifactUsage](filepath.Join(dir, "usage.json"), "usage")
	if err != nil {
		t.Fatalf("store.New(usage): %v", err)
	}
	runStore, err := store.New[model.Run](filepath.Join(dir, "runs.json"), "runs")
	if err != nil {
		t.Fatalf("store.New(runs): %v", err)
	}
	envStore, err := store.New[model.Environment](filepath.Join(dir, "environments.json"), "environments")
	if err != nil {
		t.Fatalf("store.New(environments): %v", err)
	}
	policyStore, err := store.New[model.RetentionPolicy](filepath.Join(dir, "policies.json"), "policies")
	if err != nil {
		t.Fatalf("store.New(policies): %v", err)
	}

	artifacts := artifact.New(artifactDocs, usageStore, filepath.Join(dir, "blobs"), 30, 0, logr.Discard())
	runs := run.New(runStore, logr.Discard())
	envs := environment.New(envStore, logr.Discard())

	return &fixture{
		controller:   New(policyStore, artifacts, artifactDocs, runs, envs, logr.Discard()),
		artifacts:    artifacts,
		artifactDocs: artifactDocs,
		runs:         runs,
		runStore:     runStore,
		envs:         envs,
		policies:     policyStore,
	}
}

func TestNew_SeedsDefaultPoliciesOnce(t *testing.T) {
	f := newFixture(t)

	all := f.policies.ListAll()
	if len(all) != 4 {
		t.Fatalf("expected 4 seeded default policies, got %d", len(all))
	}

	// Constructing a second Controller over the same (non-empty) store
	// must not duplicate the defaults.
	New(f.policies, f.artifacts, f.artifactDocs, f.runs, f.envs, logr.Discard())
	if got := len(f.policies.ListAll()); got != 4 {
		t.Errorf("expected seeding to be idempotent, got %d policies", got)
	}
}

func TestRunCleanupCycle_DeletesOldArtifactPerDefaultPolicy(t *testing.T) {
	f := newFixture(t)

	quotas := model.UserQuotas{MaxStorageMB: 10}
	a, err := f.artifacts.CollectArtifact("run-1", "owner-1", artifact.Content{Bytes: []byte("x")}, "out.txt", quotas, "log", nil, nil, 0)
	if err != nil {
		t.Fatalf("CollectArtifact: %v", err)
	}
	doc, _ := f.artifactDocs.Get(a.ID)
	doc.CreatedAt = time.Now().AddDate(0, 0, -31)
	_ = f.artifactDocs.Update(a.ID, doc)

	metrics := f.controller.RunCleanupCycle()
	if metrics.ArtifactsDeleted != 1 {
		t.Fatalf("expected the 31-day-old artifact to be deleted, got metrics=%+v", metrics)
	}
	if _, err := f.artifacts.GetArtifact(a.ID); err == nil {
		t.Error("expected the artifact to no longer exist")
	}
}

func TestRunCleanupCycle_KeepsRecentArtifact(t *testing.T) {
	f := newFixture(t)

	quotas := model.UserQuotas{MaxStorageMB: 10}
	a, err := f.artifacts.CollectArtifact("run-1", "owner-1", artifact.Content{Bytes: []byte("x")}, "out.txt", quotas, "log", nil, nil, 0)
	if err != nil {
		t.Fatalf("CollectArtifact: %v", err)
	}

	metrics := f.controller.RunCleanupCycle()
	if metrics.ArtifactsDeleted != 0 {
		t.Errorf("expected a fresh artifact to survive, got metrics=%+v", metrics)
	}
	if _, err := f.artifacts.GetArtifact(a.ID); err != nil {
		t.Error("expected the fresh artifact to still exist")
	}
}

func TestRunCleanupCycle_DeletesOldFailedRun(t *testing.T) {
	f := newFixture(t)

	r, err := f.runs.CreateRun("env-1", "prog-1", nil)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	r, _ = f.runs.StartRun(r.ID, "job-1")
	exitCode := int32(1)
	r, _ = f.runs.MarkFailed(r.ID, &exitCode, "boom")

	old := time.Now().AddDate(0, 0, -4)
	r.CompletedAt = &old
	_ = f.runStore.Update(r.ID, r)

	metrics := f.controller.RunCleanupCycle()
	if metrics.RunsDeleted == 0 {
		t.Fatalf("expected the old failed run to be deleted by the failed-run-3-day policy, got metrics=%+v", metrics)
	}
	if _, err := f.runs.Get(r.ID); err == nil {
		t.Error("expected the old failed run to no longer exist")
	}
}

func TestRunCleanupCycle_EvaluatesAllSeededPolicies(t *testing.T) {
	f := newFixture(t)
	metrics := f.controller.RunCleanupCycle()
	if metrics.PoliciesEvaluated != 4 {
		t.Errorf("PoliciesEvaluated = %d, want 4", metrics.PoliciesEvaluated)
	}
}

func TestPreviewPolicy_DoesNotDelete(t *testing.T) {
	f := newFixture(t)

	quotas := model.UserQuotas{MaxStorageMB: 10}
	a, _ := f.artifacts.CollectArtifact("run-1", "owner-1", artifact.Content{Bytes: []byte("x")}, "out.txt", quotas, "log", nil, nil, 0)
	doc, _ := f.artifactDocs.Get(a.ID)
	doc.CreatedAt = time.Now().AddDate(0, 0, -31)
	_ = f.artifactDocs.Update(a.ID, doc)

	var artifactPolicyID string
	for _, p := range f.policies.ListAll() {
		if p.ResourceType == model.ResourceArtifact && p.Condition == model.ConditionAgeDays {
			artifactPolicyID = p.ID
		}
	}
	if artifactPolicyID == "" {
		t.Fatal("expected to find the seeded artifact-30-day policy")
	}

	ids, err := f.controller.PreviewPolicy(artifactPolicyID)
	if err != nil {
		t.Fatalf("PreviewPolicy: %v", err)
	}
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("PreviewPolicy matched %v, want [%s]", ids, a.ID)
	}

	if _, err := f.artifacts.GetArtifact(a.ID); err != nil {
		t.Error("PreviewPolicy must not delete anything")
	}
}
