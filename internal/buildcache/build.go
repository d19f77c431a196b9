// Copyright Contributors to the Mellea project

package buildcache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mellea/controlplane/internal/metrics"
	"github.com/mellea/controlplane/internal/model"
)

// BuildImage runs the build algorithm of spec.md §4.4, dispatching to a
// synchronous two-layer build (deps layer reused from cache when
// possible, program layer always rebuilt) or, when the configured
// backend is asynchronous (Kaniko), to a single combined-Dockerfile Job
// submission that returns before the image is actually ready.
func (e *Engine) BuildImage(program model.ProgramAsset, workspacePath string, forceRebuild, push bool) model.BuildResult {
	backend := e.backendFactory(program.ID)
	if backend.Async() {
		return e.buildImageAsync(program, workspacePath, backend)
	}
	return e.buildImageSync(program, workspacePath, forceRebuild, push, backend)
}

// buildImageSync runs the five-step build algorithm (spec.md §4.4):
// compute the cache key, reuse a cached dependency layer when possible,
// otherwise build one, then always build the program layer on top.
func (e *Engine) buildImageSync(program model.ProgramAsset, workspacePath string, forceRebuild, push bool, backend Backend) model.BuildResult {
	start := time.Now()
	cacheKey := program.Dependencies.CacheKey()
	bctx := model.BuildContext{Stage: model.StagePreparing, CacheKey: cacheKey}
	e.log.Info("build starting", "program_id", program.ID, "stage", bctx.Stage, "cache_key", cacheKey)

	var depsImageTag string
	var cacheHit bool
	var depsDuration time.Duration

	if !forceRebuild {
		if entry, ok := e.GetCachedLayer(cacheKey); ok && e.VerifyCachedImageExists(entry.ImageTag) {
			depsImageTag = entry.ImageTag
			cacheHit = true
		}
	}

	if !cacheHit {
		bctx.Stage = model.StageBuildingDeps
		depsStart := time.Now()

		dockerfile, requirements := renderDepsDockerfile(program.Dependencies)
		tag := e.depsImageTag(cacheKey)
		buildContext := map[string]string{"requirements.txt": requirements}

		if _, err := backend.BuildLayer(tag, dockerfile, buildContext, push); err != nil {
			return model.BuildResult{Success: false, ErrorMessage: "dependency layer build failed: " + err.Error()}
		}
		depsDuration = time.Since(depsStart)
		metrics.BuildDuration.WithLabelValues(string(model.StageBuildingDeps)).Observe(depsDuration.Seconds())

		if _, err := e.newCacheEntry(cacheKey, tag, effectiveInterpreterVersion(program.Dependencies), len(program.Dependencies.Packages)); err != nil {
			e.log.Error(err, "failed to persist new cache entry", "cache_key", cacheKey)
		}
		depsImageTag = tag
	}
	metrics.RecordCacheLookup(cacheHit)

	bctx.Stage = model.StageBuildingProgram
	progStart := time.Now()

	if _, err := os.Stat(workspacePath); err != nil {
		return model.BuildResult{Success: false, ErrorMessage: "workspace not found: " + err.Error()}
	}

	progDockerfile := renderProgDockerfile(depsImageTag, program.Entrypoint)
	progTag := e.progImageTag(program.ID)
	progContext := workspaceContext(workspacePath)

	if _, err := backend.BuildLayer(progTag, progDockerfile, progContext, push); err != nil {
		return model.BuildResult{Success: false, ErrorMessage: "program layer build failed: " + err.Error()}
	}
	progDuration := time.Since(progStart)
	metrics.BuildDuration.WithLabelValues(string(model.StageBuildingProgram)).Observe(progDuration.Seconds())

	return model.BuildResult{
		Success:                     true,
		ImageTag:                    progTag,
		CacheHit:                    cacheHit,
		TotalDurationSeconds:        time.Since(start).Seconds(),
		DepsBuildDurationSeconds:    depsDuration.Seconds(),
		ProgramBuildDurationSeconds: progDuration.Seconds(),
	}
}

// buildImageAsync is the Kaniko-backend variant: it combines the deps and
// program layers into a single Dockerfile (the two-layer optimization is
// moot without a shared daemon) and submits one Build Job, returning
// before the image is actually ready.
func (e *Engine) buildImageAsync(program model.ProgramAsset, workspacePath string, backend Backend) model.BuildResult {
	if _, err := os.Stat(workspacePath); err != nil {
		return model.BuildResult{Success: false, ErrorMessage: "workspace not found: " + err.Error()}
	}

	start := time.Now()
	_, deps := renderDepsDockerfile(program.Dependencies)
	progTag := e.progImageTag(program.ID)

	combined := combinedDockerfile(effectiveInterpreterVersion(program.Dependencies), program.Entrypoint)
	buildContext := workspaceContext(workspacePath)
	buildContext["requirements.txt"] = deps

	duration, err := backend.BuildLayer(progTag, combined, buildContext, false)
	if err != nil {
		return model.BuildResult{Success: false, ErrorMessage: "kaniko build job submission failed: " + err.Error()}
	}
	metrics.RecordCacheLookup(false)
	metrics.BuildDuration.WithLabelValues(string(model.StageBuildingProgram)).Observe(duration.Seconds())

	jobName := progTag
	if namer, ok := backend.(BuildJobNamer); ok {
		jobName = namer.LastBuildJobName()
	}

	return model.BuildResult{
		Success:              true,
		ImageTag:             progTag,
		CacheHit:             false,
		BuildJobName:         jobName,
		TotalDurationSeconds: time.Since(start).Seconds(),
	}
}

// combinedDockerfile produces the single-stage Dockerfile the Kaniko
// backend uses when there is no shared daemon to layer-cache against.
func combinedDockerfile(interpreterVersion, entrypoint string) string {
	var b dockerfileBuilder
	b.writeln("FROM " + baseImageFor(interpreterVersion))
	b.writeln("WORKDIR /app")
	b.writeln("COPY requirements.txt .")
	b.writeln("RUN --mount=type=cache,target=/root/.cache/pip pip install --no-cache-dir -r requirements.txt")
	b.writeln("COPY . /app")
	b.writeln("ENV MELLEA_ENTRYPOINT=" + entrypoint)
	b.writeln(`CMD ["python", "` + entrypoint + `"]`)
	return b.String()
}

type dockerfileBuilder struct{ lines []string }

func (b *dockerfileBuilder) writeln(s string) { b.lines = append(b.lines, s) }
func (b *dockerfileBuilder) String() string {
	out := ""
	for _, l := range b.lines {
		out += l + "\n"
	}
	return out
}

func effectiveInterpreterVersion(spec model.DependencySpec) string {
	if spec.InterpreterVersion == "" {
		return model.DefaultInterpreterVersion
	}
	return spec.InterpreterVersion
}

// workspaceContext reads every regular file under workspacePath into a
// path→text map suitable for a build context (ConfigMap data or a local
// tar). Best-effort: unreadable files are skipped rather than failing
// the whole build, matching spec.md §4.4's "missing workspace is fatal,
// individual file errors are not" distinction.
func workspaceContext(workspacePath string) map[string]string {
	out := map[string]string{}
	_ = filepath.Walk(workspacePath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workspacePath, path)
		if err != nil {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		out[rel] = string(content)
		return nil
	})
	return out
}
