// Copyright Contributors to the Mellea project

// Package executor implements the Run Executor (spec.md §4.6): it
// orchestrates submit/sync/cancel/cleanup between the Run Service and
// the Kubernetes Adapter, validating credentials before submission. It
// generalizes the teacher's task_controller.go reconcile sequence
// (load → validate → build pod spec → submit → poll pod phase) from a
// CRD-reconciler loop into directly-callable service methods.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/mellea/controlplane/internal/credentials"
	"github.com/mellea/controlplane/internal/environment"
	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/k8sadapter"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/run"
)

// Executor wires together the Run/Environment services, the Kubernetes
// Adapter, and the Credential Gateway.
type Executor struct {
	runs         *run.Service
	environments *environment.Service
	runJobs      *k8sadapter.RunJobs
	gateway      credentials.Gateway
	outputRoot   string
	log          logr.Logger
}

// New constructs a Run Executor.
func New(runs *run.Service, environments *environment.Service, runJobs *k8sadapter.RunJobs, gateway credentials.Gateway, outputRoot string, log logr.Logger) *Executor {
	return &Executor{runs: runs, environments: environments, runJobs: runJobs, gateway: gateway, outputRoot: outputRoot, log: log.WithName("executor")}
}

// SubmitRun validates the Run's credentials and environment, then
// submits a Kubernetes Job (spec.md §4.6 steps 1-6).
func (e *Executor) SubmitRun(ctx context.Context, runID, entrypoint string) (model.Run, error) {
	r, err := e.runs.Get(runID)
	if err != nil {
		return model.Run{}, err
	}
	if r.Status != model.RunQueued {
		if r.Status.Terminal() {
			return r, nil
		}
		return model.Run{}, errs.Newf(errs.KindInvalidStateTransition, "run %s: SubmitRun requires QUEUED, got %s", runID, r.Status)
	}

	env, err := e.environments.Get(r.EnvironmentID)
	if err != nil {
		return model.Run{}, err
	}
	if env.ImageTag == "" {
		_, _ = e.runs.MarkFailed(runID, nil, "environment has no image_tag")
		return model.Run{}, errs.Newf(errs.KindEnvironmentNotReady, "environment %s is not ready (no image_tag)", env.ID)
	}

	now := time.Now()
	secretNames := make([]string, 0, len(r.CredentialIDs))
	for _, credID := range r.CredentialIDs {
		if err := e.gateway.CheckValid(credID, now); err != nil {
			return model.Run{}, err
		}
		secretNames = append(secretNames, e.gateway.SecretName(credID))
	}

	jobName := "mellea-run-" + model.ShortID(env.ID, 8)
	started, err := e.runs.StartRun(runID, jobName)
	if err != nil {
		// Failed to write STARTING: Run remains QUEUED (spec.md §4.6 step 5).
		return model.Run{}, err
	}

	if _, err := e.runJobs.CreateRunJob(ctx, env.ID, env.ImageTag, env.ResourceLimits, entrypoint, secretNames); err != nil {
		failed, markErr := e.runs.MarkFailed(runID, nil, err.Error())
		if markErr != nil {
			return model.Run{}, markErr
		}
		return failed, nil
	}
	return started, nil
}

// SyncRunStatus reconciles a Run's status against the cluster's JobInfo
// (spec.md §4.6's SyncRunStatus contract).
func (e *Executor) SyncRunStatus(ctx context.Context, runID string) (model.Run, error) {
	r, err := e.runs.Get(runID)
	if err != nil {
		return model.Run{}, err
	}
	if r.JobName == "" || r.Status.Terminal() {
		return r, nil
	}

	info, err := e.runJobs.GetJobStatus(ctx, r.JobName)
	if err != nil {
		failed, markErr := e.runs.MarkFailed(runID, nil, err.Error())
		if markErr != nil {
			return model.Run{}, markErr
		}
		return failed, nil
	}

	switch info.Status {
	case model.JobRunning:
		if r.Status == model.RunRunning {
			return r, nil
		}
		return e.runs.MarkRunning(runID)
	case model.JobSucceeded:
		outputPath := fmt.Sprintf("%s/%s", e.outputRoot, runID)
		return e.runs.MarkSucceeded(runID, info.ExitCode, outputPath)
	case model.JobFailed:
		return e.runs.MarkFailed(runID, info.ExitCode, info.ErrorMessage)
	default: // PENDING: ignored
		return r, nil
	}
}

// CancelRun transitions the Run to CANCELLED and best-effort cancels its
// Kubernetes Job; cluster failures do not prevent the local transition
// (spec.md §4.6).
func (e *Executor) CancelRun(ctx context.Context, runID string, force bool) (model.Run, error) {
	r, err := e.runs.Get(runID)
	if err != nil {
		return model.Run{}, err
	}
	if r.Status.Terminal() {
		return r, nil
	}

	cancelled, err := e.runs.Cancel(runID)
	if err != nil {
		return model.Run{}, err
	}

	if r.JobName != "" {
		if err := e.runJobs.CancelJob(ctx, r.JobName, force); err != nil {
			e.log.Info("cluster cancel failed, local state already CANCELLED", "run_id", runID, "job_name", r.JobName, "error", err.Error())
		}
	}
	return cancelled, nil
}

// CleanupCompletedJob deletes the Kubernetes Job backing a terminal Run.
// Idempotent: DeleteJob tolerates 404s.
func (e *Executor) CleanupCompletedJob(ctx context.Context, runID string) (bool, error) {
	r, err := e.runs.Get(runID)
	if err != nil {
		return false, err
	}
	if !r.Status.Terminal() || r.JobName == "" {
		return false, nil
	}
	if err := e.runJobs.DeleteJob(ctx, r.JobName, metav1.DeletePropagationForeground, nil); err != nil {
		return false, err
	}
	return true, nil
}
