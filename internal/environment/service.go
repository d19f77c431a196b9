// Copyright Contributors to the Mellea project

package environment

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/metrics"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

// Service owns the Environment state machine: it is the only code
// permitted to write an Environment's status field. No other service may
// mutate an Environment it does not own (spec.md §3 ownership summary).
type Service struct {
	store *store.Store[model.Environment]
	log   logr.Logger
}

// New constructs an Environment Service backed by st.
func New(st *store.Store[model.Environment], log logr.Logger) *Service {
	return &Service{store: st, log: log.WithName("environment")}
}

// CreateEnvironment starts a new Environment in CREATING for programID.
func (s *Service) CreateEnvironment(programID, imageTag string, limits model.ResourceLimits) (model.Environment, error) {
	now := time.Now()
	env := model.Environment{
		ID:             model.NewID(),
		ProgramID:      programID,
		ImageTag:       imageTag,
		ResourceLimits: limits,
		Status:         model.EnvironmentCreating,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(env); err != nil {
		return model.Environment{}, err
	}
	return env, nil
}

// Get returns the Environment with the given id.
func (s *Service) Get(id string) (model.Environment, error) {
	return s.store.Get(id)
}

// ListAll returns every Environment in the store.
func (s *Service) ListAll() []model.Environment {
	return s.store.ListAll()
}

// Find returns every Environment matching predicate.
func (s *Service) Find(predicate func(model.Environment) bool) []model.Environment {
	return s.store.Find(predicate)
}

// UpdateStatus validates and applies a transition to target, setting
// timestamps per spec.md §4.5: started_at on entry to RUNNING, stopped_at
// on entry to STOPPED, error_message on entry to FAILED. A move to the
// Environment's current state returns it unchanged.
func (s *Service) UpdateStatus(id string, target model.EnvironmentStatus, errorMessage, containerID string) (model.Environment, error) {
	env, err := s.store.Get(id)
	if err != nil {
		return model.Environment{}, err
	}

	if !IsValidTransition(env.Status, target) {
		return model.Environment{}, errs.Newf(errs.KindInvalidStateTransition,
			"environment %s: cannot transition from %s to %s", id, env.Status, target)
	}
	if env.Status == target {
		return env, nil
	}

	from := env.Status
	env.Status = target
	env.UpdatedAt = time.Now()
	if containerID != "" {
		env.ContainerID = containerID
	}
	switch target {
	case model.EnvironmentRunning:
		now := env.UpdatedAt
		env.StartedAt = &now
	case model.EnvironmentStopped:
		now := env.UpdatedAt
		env.StoppedAt = &now
	case model.EnvironmentFailed:
		env.ErrorMessage = errorMessage
	}

	if err := s.store.Update(id, env); err != nil {
		return model.Environment{}, err
	}
	metrics.RecordEnvironmentTransition(string(from), string(target))
	return env, nil
}

// StartEnvironment transitions a READY Environment to STARTING.
func (s *Service) StartEnvironment(id string) (model.Environment, error) {
	return s.UpdateStatus(id, model.EnvironmentStarting, "", "")
}

// StopEnvironment transitions a RUNNING Environment to STOPPING.
func (s *Service) StopEnvironment(id string) (model.Environment, error) {
	return s.UpdateStatus(id, model.EnvironmentStopping, "", "")
}

// DeleteEnvironment enforces the transition to DELETING and then removes
// the entity from the store.
func (s *Service) DeleteEnvironment(id string) error {
	if _, err := s.UpdateStatus(id, model.EnvironmentDeleting, "", ""); err != nil {
		return err
	}
	return s.store.Delete(id)
}

// LastActivity computes the monotonic "last seen doing something" instant
// for env, folding in the latest activity of its runs. The Idle-Timeout
// Controller uses this instead of reading updated_at alone so a
// concurrent store write racing the scan never makes activity appear to
// move backwards (spec.md §9 open question).
func LastActivity(env model.Environment, runCompletedOrStarted ...time.Time) time.Time {
	latest := env.UpdatedAt
	for _, t := range runCompletedOrStarted {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}
