// Copyright Contributors to the Mellea project

package run

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/metrics"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

// Service owns the Run state machine: it is the only code permitted to
// write a Run's status field.
type Service struct {
	store *store.Store[model.Run]
	log   logr.Logger
}

// New constructs a Run Service backed by st.
func New(st *store.Store[model.Run], log logr.Logger) *Service {
	return &Service{store: st, log: log.WithName("run")}
}

// CreateRun starts a new Run in QUEUED for the given environment/program,
// with the credentials that must be validated before submission.
func (s *Service) CreateRun(environmentID, programID string, credentialIDs []string) (model.Run, error) {
	r := model.Run{
		ID:            model.NewID(),
		EnvironmentID: environmentID,
		ProgramID:     programID,
		CredentialIDs: credentialIDs,
		Status:        model.RunQueued,
		CreatedAt:     time.Now(),
	}
	if err := s.store.Create(r); err != nil {
		return model.Run{}, err
	}
	return r, nil
}

// Get returns the Run with the given id.
func (s *Service) Get(id string) (model.Run, error) {
	return s.store.Get(id)
}

// ListAll returns every Run in the store.
func (s *Service) ListAll() []model.Run {
	return s.store.ListAll()
}

// Find returns every Run matching predicate.
func (s *Service) Find(predicate func(model.Run) bool) []model.Run {
	return s.store.Find(predicate)
}

// Delete removes a Run record outright (used by retention/cleanup, not by
// the state machine itself).
func (s *Service) Delete(id string) error {
	return s.store.Delete(id)
}

// transition validates and applies a move to target, recording
// started_at on entry to RUNNING and completed_at on entry to any
// terminal state. A move to the Run's current state returns it unchanged.
func (s *Service) transition(id string, target model.RunStatus, mutate func(*model.Run)) (model.Run, error) {
	r, err := s.store.Get(id)
	if err != nil {
		return model.Run{}, err
	}

	if !IsValidTransition(r.Status, target) {
		return model.Run{}, errs.Newf(errs.KindInvalidStateTransition,
			"run %s: cannot transition from %s to %s", id, r.Status, target)
	}
	if r.Status == target {
		return r, nil
	}

	from := r.Status
	r.Status = target
	now := time.Now()
	if target == model.RunRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if target.Terminal() {
		r.CompletedAt = &now
	}
	if mutate != nil {
		mutate(&r)
	}

	if err := s.store.Update(id, r); err != nil {
		return model.Run{}, err
	}
	metrics.RecordRunTransition(string(from), string(target))
	return r, nil
}

// StartRun transitions QUEUED → STARTING, recording the submitted job name.
func (s *Service) StartRun(id, jobName string) (model.Run, error) {
	return s.transition(id, model.RunStarting, func(r *model.Run) {
		r.JobName = jobName
	})
}

// MarkRunning transitions STARTING → RUNNING.
func (s *Service) MarkRunning(id string) (model.Run, error) {
	return s.transition(id, model.RunRunning, nil)
}

// MarkSucceeded transitions RUNNING → SUCCEEDED.
func (s *Service) MarkSucceeded(id string, exitCode *int32, outputPath string) (model.Run, error) {
	return s.transition(id, model.RunSucceeded, func(r *model.Run) {
		r.ExitCode = exitCode
		r.OutputPath = outputPath
	})
}

// MarkFailed transitions {QUEUED,STARTING,RUNNING} → FAILED, recording the error.
func (s *Service) MarkFailed(id string, exitCode *int32, errorMessage string) (model.Run, error) {
	return s.transition(id, model.RunFailed, func(run *model.Run) {
		run.ExitCode = exitCode
		run.ErrorMessage = errorMessage
	})
}

// Cancel transitions {QUEUED,STARTING,RUNNING} → CANCELLED.
func (s *Service) Cancel(id string) (model.Run, error) {
	return s.transition(id, model.RunCancelled, nil)
}
