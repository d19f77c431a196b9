// Copyright Contributors to the Mellea project

package warmup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/mellea/controlplane/internal/buildcache"
	"github.com/mellea/controlplane/internal/environment"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/store"
)

// fakeBackend is a minimal buildcache.Backend stub so warmup tests never
// shell out to a real builder.
type fakeBackend struct{ calls int }

func (f *fakeBackend) BuildLayer(string, string, map[string]string, bool) (time.Duration, error) {
	f.calls++
	return time.Millisecond, nil
}
func (f *fakeBackend) Async() bool { return false }

func newProgramWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')"), 0o644); err != nil {
		t.Fatalf("write workspace file: %v", err)
	}
	return dir
}

func newFixture(t *testing.T, poolSize int) (*Controller, *environment.Service, *store.Store[model.ProgramAsset]) {
	t.Helper()
	dir := t.TempDir()

	envStore, err := store.New[model.Environment](filepath.Join(dir, "environments.json"), "environments")
	if err != nil {
		t.Fatalf("store.New(environments): %v", err)
	}
	programsStore, err := store.New[model.ProgramAsset](filepath.Join(dir, "programs.json"), "programs")
	if err != nil {
		t.Fatalf("store.New(programs): %v", err)
	}
	cacheStore, err := store.New[model.LayerCacheEntry](filepath.Join(dir, "cache.json"), "layer_cache")
	if err != nil {
		t.Fatalf("store.New(cache): %v", err)
	}

	backend := &fakeBackend{}
	engine := buildcache.New(cacheStore, func(string) buildcache.Backend { return backend }, "", logr.Discard())
	envSvc := environment.New(envStore, logr.Discard())

	return New(envSvc, programsStore, engine, poolSize, time.Hour, 10, logr.Discard()), envSvc, programsStore
}

func TestRunWarmupCycle_CreatesReadyEnvironmentsUpToPoolSize(t *testing.T) {
	c, envSvc, programs := newFixture(t, 2)
	workspace := newProgramWorkspace(t)

	for i := 0; i < 3; i++ {
		p := model.ProgramAsset{ID: model.NewID(), Entrypoint: "main.py", ProjectRoot: workspace}
		if err := programs.Create(p); err != nil {
			t.Fatalf("Create program: %v", err)
		}
	}

	metrics := c.RunWarmupCycle()
	if metrics.EnvironmentsCreated != 2 {
		t.Fatalf("expected 2 environments created to fill the pool, got %d (errors: %v)", metrics.EnvironmentsCreated, metrics.Errors)
	}

	ready := envSvc.Find(func(e model.Environment) bool { return e.Status == model.EnvironmentReady })
	if len(ready) != 2 {
		t.Errorf("expected 2 READY environments, got %d", len(ready))
	}
}

func TestRunWarmupCycle_SkipsProgramsAlreadyWarm(t *testing.T) {
	c, envSvc, programs := newFixture(t, 1)
	workspace := newProgramWorkspace(t)

	p := model.ProgramAsset{ID: model.NewID(), Entrypoint: "main.py", ProjectRoot: workspace}
	_ = programs.Create(p)

	env, err := envSvc.CreateEnvironment(p.ID, "tag", model.ResourceLimits{})
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if _, err := envSvc.UpdateStatus(env.ID, model.EnvironmentReady, "", ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	metrics := c.RunWarmupCycle()
	if metrics.EnvironmentsCreated != 0 {
		t.Errorf("expected no new environment for an already-warm program, got %d", metrics.EnvironmentsCreated)
	}
	if metrics.WarmPoolSize != 1 {
		t.Errorf("WarmPoolSize = %d, want 1", metrics.WarmPoolSize)
	}
}

func TestRunWarmupCycle_RecyclesStaleReadyEnvironments(t *testing.T) {
	dir := t.TempDir()
	envStore, _ := store.New[model.Environment](filepath.Join(dir, "environments.json"), "environments")
	programsStore, _ := store.New[model.ProgramAsset](filepath.Join(dir, "programs.json"), "programs")
	cacheStore, _ := store.New[model.LayerCacheEntry](filepath.Join(dir, "cache.json"), "layer_cache")

	backend := &fakeBackend{}
	engine := buildcache.New(cacheStore, func(string) buildcache.Backend { return backend }, "", logr.Discard())
	envSvc := environment.New(envStore, logr.Discard())
	c := New(envSvc, programsStore, engine, 0, time.Minute, 10, logr.Discard())

	env, _ := envSvc.CreateEnvironment("prog-1", "tag", model.ResourceLimits{})
	env, _ = envSvc.UpdateStatus(env.ID, model.EnvironmentReady, "", "")
	env.CreatedAt = time.Now().Add(-2 * time.Hour)
	_ = envStore.Update(env.ID, env)

	metrics := c.RunWarmupCycle()
	if metrics.EnvironmentsRecycled != 1 {
		t.Fatalf("expected the stale warm environment to be recycled, got %+v", metrics)
	}
	if _, err := envSvc.Get(env.ID); err == nil {
		t.Error("expected the stale warm environment to be deleted")
	}
}

func TestGetWarmEnvironmentForProgram(t *testing.T) {
	c, envSvc, _ := newFixture(t, 1)

	if _, ok := c.GetWarmEnvironmentForProgram("prog-1"); ok {
		t.Fatal("expected no warm environment before one is created")
	}

	env, _ := envSvc.CreateEnvironment("prog-1", "tag", model.ResourceLimits{})
	_, _ = envSvc.UpdateStatus(env.ID, model.EnvironmentReady, "", "")

	got, ok := c.GetWarmEnvironmentForProgram("prog-1")
	if !ok || got.ID != env.ID {
		t.Errorf("GetWarmEnvironmentForProgram = %+v, %v, want %s, true", got, ok, env.ID)
	}
}

func TestGetPopularDependencies_OrdersByUseCountDesc(t *testing.T) {
	dir := t.TempDir()
	cacheStore, err := store.New[model.LayerCacheEntry](filepath.Join(dir, "cache.json"), "layer_cache")
	if err != nil {
		t.Fatalf("store.New(cache): %v", err)
	}
	_ = cacheStore.Create(model.LayerCacheEntry{ID: "a", CacheKey: "a", UseCount: 3})
	_ = cacheStore.Create(model.LayerCacheEntry{ID: "b", CacheKey: "b", UseCount: 10})
	_ = cacheStore.Create(model.LayerCacheEntry{ID: "c", CacheKey: "c", UseCount: 1})

	top := GetPopularDependencies(cacheStore, 2)
	if len(top) != 2 || top[0].ID != "b" || top[1].ID != "a" {
		t.Errorf("GetPopularDependencies(2) = %+v, want [b, a]", top)
	}
}
