// Copyright Contributors to the Mellea project

// Package idletimeout implements the Idle-Timeout Controller (spec.md
// §4.9): it stops running environments with no recent activity and
// deletes stale completed runs past retention.
package idletimeout

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/environment"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/run"
)

// Controller runs periodic idle-reclamation cycles.
type Controller struct {
	environments *environment.Service
	runs         *run.Service

	idleTimeout  time.Duration
	runRetention time.Duration

	log logr.Logger
}

// New constructs an Idle-Timeout Controller.
func New(environments *environment.Service, runs *run.Service, idleTimeout, runRetention time.Duration, log logr.Logger) *Controller {
	return &Controller{environments: environments, runs: runs, idleTimeout: idleTimeout, runRetention: runRetention, log: log.WithName("idle-timeout-controller")}
}

// RunCleanupCycle executes one idle-timeout cycle (spec.md §4.9 steps 1-4).
func (c *Controller) RunCleanupCycle() model.ControllerMetrics {
	start := time.Now()
	metrics := model.ControllerMetrics{}

	now := time.Now()
	candidates := c.environments.Find(func(e model.Environment) bool {
		return e.Status == model.EnvironmentReady || e.Status == model.EnvironmentRunning
	})
	metrics.EnvironmentsChecked = len(candidates)

	for _, env := range candidates {
		lastActivity := c.lastActivity(env)
		if now.Sub(lastActivity) <= c.idleTimeout {
			continue
		}
		if err := c.reclaim(env); err != nil {
			metrics.Errors = append(metrics.Errors, err.Error())
			continue
		}
		metrics.EnvironmentsStopped++
	}

	staleRuns := c.runs.Find(func(r model.Run) bool {
		if !r.Status.Terminal() {
			return false
		}
		reference := r.CreatedAt
		if r.CompletedAt != nil {
			reference = *r.CompletedAt
		}
		return now.Sub(reference) > c.runRetention
	})
	metrics.RunsChecked = len(staleRuns)
	for _, r := range staleRuns {
		if err := c.runs.Delete(r.ID); err != nil {
			metrics.Errors = append(metrics.Errors, err.Error())
			continue
		}
		metrics.RunsDeleted++
	}

	metrics.DurationSeconds = time.Since(start).Seconds()
	return metrics
}

// lastActivity computes max(env.updated_at, max over its runs of
// completed_at/started_at) per spec.md §4.9 step 1.
func (c *Controller) lastActivity(env model.Environment) time.Time {
	runs := c.runs.Find(func(r model.Run) bool { return r.EnvironmentID == env.ID })
	var times []time.Time
	for _, r := range runs {
		if r.CompletedAt != nil {
			times = append(times, *r.CompletedAt)
		}
		if r.StartedAt != nil {
			times = append(times, *r.StartedAt)
		}
	}
	return environment.LastActivity(env, times...)
}

// reclaim stops a RUNNING environment (then transitions it to STOPPED)
// or deletes a READY one directly (spec.md §4.9 step 2).
func (c *Controller) reclaim(env model.Environment) error {
	switch env.Status {
	case model.EnvironmentRunning:
		if _, err := c.environments.StopEnvironment(env.ID); err != nil {
			return err
		}
		_, err := c.environments.UpdateStatus(env.ID, model.EnvironmentStopped, "", "")
		return err
	case model.EnvironmentReady:
		return c.environments.DeleteEnvironment(env.ID)
	}
	return nil
}
