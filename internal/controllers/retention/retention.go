// Copyright Contributors to the Mellea project

// Package retention implements the Retention-Policy Controller (spec.md
// §4.10): it evaluates user-defined policies against artifacts, runs,
// and environments and deletes whatever matches.
package retention

import (
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/artifact"
	"github.com/mellea/controlplane/internal/environment"
	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/run"
	"github.com/mellea/controlplane/internal/store"
)

const largeArtifactBytes = 500 * 1024 * 1024

// Controller runs periodic retention-policy cycles.
type Controller struct {
	policies     *store.Store[model.RetentionPolicy]
	artifacts    *artifact.Collector
	artifactDocs *store.Store[model.Artifact]
	runs         *run.Service
	environments *environment.Service
	log          logr.Logger
}

// New constructs a Retention-Policy Controller, seeding default policies
// if the store is empty.
func New(policies *store.Store[model.RetentionPolicy], artifacts *artifact.Collector, artifactDocs *store.Store[model.Artifact], runs *run.Service, environments *environment.Service, log logr.Logger) *Controller {
	c := &Controller{policies: policies, artifacts: artifacts, artifactDocs: artifactDocs, runs: runs, environments: environments, log: log.WithName("retention-controller")}
	c.seedDefaultPolicies()
	return c
}

// seedDefaultPolicies creates the spec.md §4.10 default policy set once,
// if no policies exist yet.
func (c *Controller) seedDefaultPolicies() {
	if len(c.policies.ListAll()) > 0 {
		return
	}
	defaults := []model.RetentionPolicy{
		{ID: model.NewID(), Name: "artifact-30-day", ResourceType: model.ResourceArtifact, Condition: model.ConditionAgeDays, Threshold: 30, Enabled: true, Priority: 0},
		{ID: model.NewID(), Name: "run-7-day", ResourceType: model.ResourceRun, Condition: model.ConditionAgeDays, Threshold: 7, Enabled: true, Priority: 0},
		{ID: model.NewID(), Name: "failed-run-3-day", ResourceType: model.ResourceRun, Condition: model.ConditionStatus, Threshold: 3, StatusValue: string(model.RunFailed), Enabled: true, Priority: 1},
		{ID: model.NewID(), Name: "large-artifact-7-day", ResourceType: model.ResourceArtifact, Condition: model.ConditionSizeBytes, Threshold: largeArtifactBytes, Enabled: true, Priority: 1},
	}
	for _, p := range defaults {
		_ = c.policies.Create(p)
	}
}

// RunCleanupCycle executes one retention cycle (spec.md §4.10 steps 1-4).
func (c *Controller) RunCleanupCycle() model.RetentionMetrics {
	start := time.Now()
	metrics := model.RetentionMetrics{}

	policies := c.policies.Find(func(p model.RetentionPolicy) bool { return p.Enabled })
	sort.Slice(policies, func(i, j int) bool { return policies[i].Priority > policies[j].Priority })
	metrics.PoliciesEvaluated = len(policies)

	now := time.Now()
	for _, policy := range policies {
		ids := c.matchPolicy(policy, now)
		for _, id := range ids {
			freed, err := c.deleteMatch(policy.ResourceType, id)
			if err != nil {
				metrics.Errors = append(metrics.Errors, err.Error())
				continue
			}
			switch policy.ResourceType {
			case model.ResourceArtifact:
				metrics.ArtifactsDeleted++
				metrics.StorageFreedBytes += freed
			case model.ResourceRun:
				metrics.RunsDeleted++
			case model.ResourceEnvironment:
				metrics.EnvironmentsCleaned++
			}
		}
	}

	metrics.DurationSeconds = time.Since(start).Seconds()
	return metrics
}

// PreviewPolicy returns the resource ids policyID currently matches,
// without deleting anything.
func (c *Controller) PreviewPolicy(policyID string) ([]string, error) {
	policy, err := c.policies.Get(policyID)
	if err != nil {
		return nil, err
	}
	return c.matchPolicy(policy, time.Now()), nil
}

func (c *Controller) matchPolicy(policy model.RetentionPolicy, now time.Time) []string {
	switch policy.ResourceType {
	case model.ResourceArtifact:
		return c.matchArtifacts(policy, now)
	case model.ResourceRun:
		return c.matchRuns(policy, now)
	case model.ResourceEnvironment:
		return c.matchEnvironments(policy, now)
	default:
		return nil
	}
}

func (c *Controller) matchArtifacts(policy model.RetentionPolicy, now time.Time) []string {
	var ids []string
	for _, a := range c.artifactDocs.ListAll() {
		age := now.Sub(a.CreatedAt)
		var match bool
		switch policy.Condition {
		case model.ConditionAgeDays:
			match = age >= time.Duration(policy.Threshold)*24*time.Hour
		case model.ConditionSizeBytes:
			match = a.SizeBytes >= policy.Threshold && age >= 7*24*time.Hour
		case model.ConditionUnusedDays:
			match = age >= time.Duration(policy.Threshold)*24*time.Hour
		}
		if match {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func (c *Controller) matchRuns(policy model.RetentionPolicy, now time.Time) []string {
	var ids []string
	for _, r := range c.runs.Find(func(r model.Run) bool { return r.Status.Terminal() }) {
		reference := r.CreatedAt
		if r.CompletedAt != nil {
			reference = *r.CompletedAt
		}
		age := now.Sub(reference)
		var match bool
		switch policy.Condition {
		case model.ConditionAgeDays:
			match = age >= time.Duration(policy.Threshold)*24*time.Hour
		case model.ConditionStatus:
			match = string(r.Status) == policy.StatusValue && age >= time.Duration(policy.Threshold)*24*time.Hour
		}
		if match {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (c *Controller) matchEnvironments(policy model.RetentionPolicy, now time.Time) []string {
	var ids []string
	for _, e := range c.environments.Find(func(e model.Environment) bool {
		return e.Status == model.EnvironmentStopped || e.Status == model.EnvironmentFailed
	}) {
		age := now.Sub(e.UpdatedAt)
		var match bool
		switch policy.Condition {
		case model.ConditionAgeDays, model.ConditionUnusedDays:
			match = age >= time.Duration(policy.Threshold)*24*time.Hour
		case model.ConditionStatus:
			match = string(e.Status) == policy.StatusValue
		}
		if match {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// deleteMatch invokes the owning service's deletion API and returns
// bytes freed (artifacts only; zero otherwise).
func (c *Controller) deleteMatch(resourceType model.RetentionResourceType, id string) (int64, error) {
	switch resourceType {
	case model.ResourceArtifact:
		a, err := c.artifacts.GetArtifact(id)
		if err != nil {
			return 0, err
		}
		if err := c.artifacts.DeleteArtifact(id); err != nil {
			return 0, err
		}
		return a.SizeBytes, nil
	case model.ResourceRun:
		return 0, c.runs.Delete(id)
	case model.ResourceEnvironment:
		return 0, c.environments.DeleteEnvironment(id)
	default:
		return 0, errs.Newf(errs.KindNotFound, "unknown retention resource type %q", resourceType)
	}
}
