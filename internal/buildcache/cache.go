// Copyright Contributors to the Mellea project

// Package buildcache implements the Build/Cache Engine (spec.md §4.4):
// deduplicated dependency-layer builds keyed by a deterministic cache
// key, program-layer builds on top, and two interchangeable backends
// (a synchronous local daemon, an asynchronous in-cluster Kaniko Job).
package buildcache

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/errs"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

// Engine owns the LayerCacheEntry store and dispatches BuildImage calls
// to whichever Backend its factory produces.
type Engine struct {
	cache          *store.Store[model.LayerCacheEntry]
	backendFactory BackendFactory
	registryURL    string
	log            logr.Logger
}

// Backend executes the dependency- and program-layer build steps.
// Implemented by the local daemon backend and the Kaniko backend.
type Backend interface {
	// BuildLayer builds and (if push) pushes a single image from
	// dockerfile against buildContext, returning the wall-clock
	// duration of the build step. For the Kaniko backend this only
	// submits the Job; the duration reflects submission time, not
	// completion.
	BuildLayer(tag, dockerfile string, buildContext map[string]string, push bool) (time.Duration, error)

	// Async reports whether BuildLayer returns before the image is
	// actually ready (true for Kaniko, false for the local daemon).
	Async() bool
}

// BackendFactory returns the Backend to use for a single program's
// build. The daemon factory ignores programID and always returns the
// same stateless instance; the Kaniko factory constructs a fresh
// KanikoBackend per call so each build's Job/ConfigMap names and labels
// carry the right program_id (spec.md §4.3's Build Job labeling).
type BackendFactory func(programID string) Backend

// New constructs a Build/Cache Engine over the given cache store and
// backend factory.
func New(cache *store.Store[model.LayerCacheEntry], backendFactory BackendFactory, registryURL string, log logr.Logger) *Engine {
	return &Engine{cache: cache, backendFactory: backendFactory, registryURL: registryURL, log: log.WithName("buildcache")}
}

// GetCachedLayer scans for a LayerCacheEntry matching cacheKey, bumping
// its use_count and last_used_at on a hit.
func (e *Engine) GetCachedLayer(cacheKey string) (model.LayerCacheEntry, bool) {
	matches := e.cache.Find(func(entry model.LayerCacheEntry) bool { return entry.CacheKey == cacheKey })
	if len(matches) == 0 {
		return model.LayerCacheEntry{}, false
	}
	entry := matches[0]
	entry.UseCount++
	entry.LastUsedAt = time.Now()
	_ = e.cache.Update(entry.ID, entry)
	return entry, true
}

// VerifyCachedImageExists probes whether imageTag is actually present;
// callers treat a false result as cache invalidation. Existence checks
// don't need a program-scoped backend, so the factory is called with an
// empty programID.
func (e *Engine) VerifyCachedImageExists(imageTag string) bool {
	checker, ok := e.backendFactory("").(ImageExistsChecker)
	if !ok {
		return false
	}
	return checker.ImageExists(imageTag)
}

// ImageExistsChecker is implemented by backends that can answer whether
// an image tag already exists (probing the daemon or the registry).
type ImageExistsChecker interface {
	ImageExists(imageTag string) bool
}

// depsImageTag formats the deterministic, registry-qualified
// dependency-layer tag (spec.md §4.8's "mellea-deps:<cache_key[:12]>").
func (e *Engine) depsImageTag(cacheKey string) string {
	n := 12
	if len(cacheKey) < n {
		n = len(cacheKey)
	}
	return e.qualify("mellea-deps:" + cacheKey[:n])
}

// progImageTag formats the deterministic, registry-qualified
// program-layer tag ("mellea-prog:<program_id[:12]>").
func (e *Engine) progImageTag(programID string) string {
	return e.qualify("mellea-prog:" + model.ShortID(programID, 12))
}

// qualify prefixes tag with the configured registry, when one is set.
func (e *Engine) qualify(tag string) string {
	if e.registryURL == "" {
		return tag
	}
	return e.registryURL + "/" + tag
}

// PruneStaleCacheEntries removes entries whose last_used_at precedes the
// cutoff computed from maxAgeDays, best-effort deleting the underlying
// image. Returns the number pruned.
func (e *Engine) PruneStaleCacheEntries(maxAgeDays int) int {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	stale := e.cache.Find(func(entry model.LayerCacheEntry) bool { return entry.LastUsedAt.Before(cutoff) })
	pruned := 0
	for _, entry := range stale {
		if deleter, ok := e.backendFactory("").(ImageDeleter); ok {
			if err := deleter.DeleteImage(entry.ImageTag); err != nil {
				e.log.Info("failed to delete stale cache image, continuing", "image", entry.ImageTag, "error", err.Error())
			}
		}
		if err := e.cache.Delete(entry.ID); err != nil {
			e.log.Error(err, "failed to delete stale cache entry", "id", entry.ID)
			continue
		}
		pruned++
	}
	return pruned
}

// ImageDeleter is implemented by backends that can remove an image from
// wherever they store it.
type ImageDeleter interface {
	DeleteImage(imageTag string) error
}

// BuildJobNamer is implemented by backends that submit an asynchronous
// Kubernetes Job for a build, exposing the name of the most recent one.
type BuildJobNamer interface {
	LastBuildJobName() string
}

// newCacheEntry persists the LayerCacheEntry for a just-built dependency
// layer. An entry already recorded under cacheKey is updated in place to
// point at the new image rather than duplicated.
func (e *Engine) newCacheEntry(cacheKey, imageTag, interpreterVersion string, packageCount int) (model.LayerCacheEntry, error) {
	now := time.Now()
	if existing := e.cache.Find(func(c model.LayerCacheEntry) bool { return c.CacheKey == cacheKey }); len(existing) > 0 {
		entry := existing[0]
		entry.ImageTag = imageTag
		entry.InterpreterVersion = interpreterVersion
		entry.PackageCount = packageCount
		entry.LastUsedAt = now
		if err := e.cache.Update(entry.ID, entry); err != nil {
			return model.LayerCacheEntry{}, errs.Wrap(errs.KindCluster, err, "persist cache entry")
		}
		return entry, nil
	}
	entry := model.LayerCacheEntry{
		ID:                 model.NewID(),
		CacheKey:           cacheKey,
		ImageTag:           imageTag,
		InterpreterVersion: interpreterVersion,
		PackageCount:       packageCount,
		CreatedAt:          now,
		LastUsedAt:         now,
		UseCount:           1,
	}
	if err := e.cache.Create(entry); err != nil {
		return model.LayerCacheEntry{}, errs.Wrap(errs.KindCluster, err, "persist cache entry")
	}
	return entry, nil
}
