// Copyright Contributors to the Mellea project

package run

import (
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.New[model.Run](filepath.Join(t.TempDir(), "runs.json"), "runs")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return New(st, logr.Discard())
}

func TestService_HappyPathLifecycle(t *testing.T) {
	s := newTestService(t)

	r, err := s.CreateRun("env-1", "prog-1", []string{"cred-1"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if r.Status != model.RunQueued {
		t.Fatalf("new run status = %s, want QUEUED", r.Status)
	}

	r, err = s.StartRun(r.ID, "job-abc")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if r.Status != model.RunStarting || r.JobName != "job-abc" {
		t.Fatalf("after StartRun = %+v", r)
	}

	r, err = s.MarkRunning(r.ID)
	if err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if r.Status != model.RunRunning || r.StartedAt == nil {
		t.Fatalf("after MarkRunning = %+v", r)
	}

	exitCode := int32(0)
	r, err = s.MarkSucceeded(r.ID, &exitCode, "/outputs/run-1")
	if err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	if r.Status != model.RunSucceeded || r.CompletedAt == nil || r.OutputPath != "/outputs/run-1" {
		t.Fatalf("after MarkSucceeded = %+v", r)
	}
}

func TestService_InvalidTransitionRejected(t *testing.T) {
	s := newTestService(t)

	r, err := s.CreateRun("env-1", "prog-1", nil)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if _, err := s.MarkRunning(r.ID); err == nil {
		t.Error("expected QUEUED -> RUNNING to be rejected")
	}
}

func TestService_CancelFromQueued(t *testing.T) {
	s := newTestService(t)

	r, err := s.CreateRun("env-1", "prog-1", nil)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	r, err = s.Cancel(r.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if r.Status != model.RunCancelled || r.CompletedAt == nil {
		t.Fatalf("after Cancel = %+v", r)
	}

	if _, err := s.Cancel(r.ID); err != nil {
		t.Errorf("re-cancelling a CANCELLED run should be a no-op, got error: %v", err)
	}
}

func TestService_MarkFailedRecordsError(t *testing.T) {
	s := newTestService(t)

	r, _ := s.CreateRun("env-1", "prog-1", nil)
	r, _ = s.StartRun(r.ID, "job-1")

	exitCode := int32(1)
	r, err := s.MarkFailed(r.ID, &exitCode, "program crashed")
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if r.Status != model.RunFailed || r.ErrorMessage != "program crashed" || *r.ExitCode != 1 {
		t.Fatalf("after MarkFailed = %+v", r)
	}
}
