// Copyright Contributors to the Mellea project

// Package warmup implements the Warmup Controller (spec.md §4.8): it
// keeps a pool of READY environments for the most popular programs so
// runs start without paying cold-build latency.
package warmup

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/buildcache"
	"github.com/mellea/controlplane/internal/environment"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

// Controller runs periodic warmup cycles.
type Controller struct {
	environments *environment.Service
	programs     *store.Store[model.ProgramAsset]
	engine       *buildcache.Engine

	poolSize         int
	maxAge           time.Duration
	popularDepsCount int

	log logr.Logger
}

// New constructs a Warmup Controller. Each candidate program supplies its
// own project_root as the workspace BuildImage checks out against, so no
// shared workspace path is needed here.
func New(environments *environment.Service, programs *store.Store[model.ProgramAsset], engine *buildcache.Engine, poolSize int, maxAge time.Duration, popularDepsCount int, log logr.Logger) *Controller {
	return &Controller{
		environments:     environments,
		programs:         programs,
		engine:           engine,
		poolSize:         poolSize,
		maxAge:           maxAge,
		popularDepsCount: popularDepsCount,
		log:              log.WithName("warmup-controller"),
	}
}

// RunWarmupCycle executes one warmup cycle (spec.md §4.8 steps 1-5).
func (c *Controller) RunWarmupCycle() model.WarmupMetrics {
	start := time.Now()
	metrics := model.WarmupMetrics{}

	metrics.EnvironmentsRecycled = c.recycleStale()

	readyByProgram := c.readyEnvironmentsByProgram()
	metrics.WarmPoolSize = len(readyByProgram)

	needed := c.poolSize - len(readyByProgram)
	if needed > 0 {
		candidates := c.selectCandidates(readyByProgram, needed)
		for _, program := range candidates {
			if err := c.warmProgram(program); err != nil {
				metrics.Errors = append(metrics.Errors, err.Error())
				continue
			}
			metrics.EnvironmentsCreated++
			metrics.LayersPreBuilt++
		}
	}

	metrics.DurationSeconds = time.Since(start).Seconds()
	return metrics
}

// recycleStale deletes every READY environment older than maxAge.
func (c *Controller) recycleStale() int {
	cutoff := time.Now().Add(-c.maxAge)
	stale := c.environments.Find(func(e model.Environment) bool {
		return e.Status == model.EnvironmentReady && e.CreatedAt.Before(cutoff)
	})
	recycled := 0
	for _, e := range stale {
		if err := c.environments.DeleteEnvironment(e.ID); err != nil {
			c.log.Error(err, "failed to recycle stale warm environment", "environment_id", e.ID)
			continue
		}
		recycled++
	}
	return recycled
}

// readyEnvironmentsByProgram indexes current READY environments by
// program id, so candidate selection can skip already-warm programs.
func (c *Controller) readyEnvironmentsByProgram() map[string]model.Environment {
	out := map[string]model.Environment{}
	for _, e := range c.environments.Find(func(e model.Environment) bool { return e.Status == model.EnvironmentReady }) {
		out[e.ProgramID] = e
	}
	return out
}

// selectCandidates lists programs ordered by last_run_at desc, skipping
// programs that already have a READY environment, taking the first
// `needed`.
func (c *Controller) selectCandidates(readyByProgram map[string]model.Environment, needed int) []model.ProgramAsset {
	all := c.programs.Find(func(model.ProgramAsset) bool { return true })
	sort.Slice(all, func(i, j int) bool {
		ti, tj := all[i].LastRunAt, all[j].LastRunAt
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})

	candidates := make([]model.ProgramAsset, 0, needed)
	for _, p := range all {
		if _, warm := readyByProgram[p.ID]; warm {
			continue
		}
		candidates = append(candidates, p)
		if len(candidates) == needed {
			break
		}
	}
	return candidates
}

// warmProgram builds (or reuses a cached) image for program, then
// creates an Environment and walks it CREATING→READY.
func (c *Controller) warmProgram(program model.ProgramAsset) error {
	result := c.engine.BuildImage(program, program.ProjectRoot, false, false)
	if !result.Success {
		return fmt.Errorf("warm build for program %s failed: %s", program.ID, result.ErrorMessage)
	}

	env, err := c.environments.CreateEnvironment(program.ID, result.ImageTag, model.ResourceLimits{})
	if err != nil {
		return err
	}
	_, err = c.environments.UpdateStatus(env.ID, model.EnvironmentReady, "", "")
	return err
}

// GetWarmEnvironmentForProgram returns one READY environment for
// programID, if any exists, enabling fast allocation.
func (c *Controller) GetWarmEnvironmentForProgram(programID string) (model.Environment, bool) {
	matches := c.environments.Find(func(e model.Environment) bool {
		return e.ProgramID == programID && e.Status == model.EnvironmentReady
	})
	if len(matches) == 0 {
		return model.Environment{}, false
	}
	return matches[0], true
}

// GetPopularDependencies returns LayerCacheEntries ordered by use_count
// desc, reserved for future pre-building of layer-only warmups
// (spec.md §4.8).
func GetPopularDependencies(cache *store.Store[model.LayerCacheEntry], limit int) []model.LayerCacheEntry {
	entries := cache.Find(func(model.LayerCacheEntry) bool { return true })
	sort.Slice(entries, func(i, j int) bool { return entries[i].UseCount > entries[j].UseCount })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
