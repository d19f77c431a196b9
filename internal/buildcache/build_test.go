// Copyright Contributors to the Mellea project

package buildcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

// fakeBackend is a stand-in Backend that records every call instead of
// shelling out or submitting a Kubernetes Job.
type fakeBackend struct {
	async      bool
	buildCalls []string // tags, in call order
	exists     map[string]bool
	buildErr   error
}

func (f *fakeBackend) BuildLayer(tag, _ string, _ map[string]string, _ bool) (time.Duration, error) {
	f.buildCalls = append(f.buildCalls, tag)
	if f.buildErr != nil {
		return 0, f.buildErr
	}
	return time.Millisecond, nil
}

func (f *fakeBackend) Async() bool { return f.async }

func (f *fakeBackend) ImageExists(tag string) bool { return f.exists[tag] }

func newTestEngine(t *testing.T, backend *fakeBackend) *Engine {
	t.Helper()
	cacheStore, err := store.New[model.LayerCacheEntry](filepath.Join(t.TempDir(), "cache.json"), "layer_cache")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	factory := func(string) Backend { return backend }
	return New(cacheStore, factory, "", logr.Discard())
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')"), 0o644); err != nil {
		t.Fatalf("write workspace file: %v", err)
	}
	return dir
}

func TestBuildImage_SyncColdThenWarmCache(t *testing.T) {
	backend := &fakeBackend{exists: map[string]bool{}}
	e := newTestEngine(t, backend)
	workspace := newWorkspace(t)

	program := model.ProgramAsset{
		ID:          "prog-1",
		Entrypoint:  "main.py",
		ProjectRoot: workspace,
		Dependencies: model.DependencySpec{
			Packages: []model.PackageRef{{Name: "flask", Version: "3.0.0"}},
		},
	}

	depsTag := e.depsImageTag(program.Dependencies.CacheKey())

	result := e.BuildImage(program, workspace, false, false)
	if !result.Success {
		t.Fatalf("first build failed: %s", result.ErrorMessage)
	}
	if result.CacheHit {
		t.Error("expected a cache miss on the first build")
	}
	if len(backend.buildCalls) != 2 {
		t.Fatalf("expected deps+prog layer builds, got %d calls: %v", len(backend.buildCalls), backend.buildCalls)
	}

	backend.exists[depsTag] = true
	backend.buildCalls = nil

	result = e.BuildImage(program, workspace, false, false)
	if !result.Success {
		t.Fatalf("second build failed: %s", result.ErrorMessage)
	}
	if !result.CacheHit {
		t.Error("expected a cache hit on the second build once the deps image exists")
	}
	if len(backend.buildCalls) != 1 {
		t.Fatalf("expected only the program layer to rebuild on a cache hit, got %v", backend.buildCalls)
	}
}

func TestBuildImage_ForceRebuildSkipsCache(t *testing.T) {
	backend := &fakeBackend{exists: map[string]bool{}}
	e := newTestEngine(t, backend)
	workspace := newWorkspace(t)

	program := model.ProgramAsset{
		ID:           "prog-1",
		Entrypoint:   "main.py",
		ProjectRoot:  workspace,
		Dependencies: model.DependencySpec{Packages: []model.PackageRef{{Name: "flask"}}},
	}

	depsTag := e.depsImageTag(program.Dependencies.CacheKey())
	backend.exists[depsTag] = true

	_ = e.BuildImage(program, workspace, false, false) // warm the cache entry
	backend.buildCalls = nil

	result := e.BuildImage(program, workspace, true, false)
	if !result.Success || result.CacheHit {
		t.Fatalf("forceRebuild should bypass the cache, got %+v", result)
	}
	if len(backend.buildCalls) != 2 {
		t.Errorf("expected both layers to rebuild, got %v", backend.buildCalls)
	}
}

func TestBuildImage_MissingWorkspaceFails(t *testing.T) {
	backend := &fakeBackend{exists: map[string]bool{}}
	e := newTestEngine(t, backend)

	program := model.ProgramAsset{ID: "prog-1", Entrypoint: "main.py"}
	result := e.BuildImage(program, "/does/not/exist", false, false)
	if result.Success {
		t.Error("expected a missing workspace to fail the build")
	}
}

func TestBuildImage_AsyncDispatchesSingleCombinedBuild(t *testing.T) {
	backend := &fakeBackend{async: true}
	e := newTestEngine(t, backend)
	workspace := newWorkspace(t)

	program := model.ProgramAsset{
		ID:           "prog-1",
		Entrypoint:   "main.py",
		Dependencies: model.DependencySpec{Packages: []model.PackageRef{{Name: "flask"}}},
	}

	result := e.BuildImage(program, workspace, false, false)
	if !result.Success {
		t.Fatalf("async build failed: %s", result.ErrorMessage)
	}
	if result.CacheHit {
		t.Error("async builds never report a cache hit")
	}
	if len(backend.buildCalls) != 1 {
		t.Errorf("expected exactly one combined build submission, got %v", backend.buildCalls)
	}
}
