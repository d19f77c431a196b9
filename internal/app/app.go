// Copyright Contributors to the Mellea project

// Package app is the control plane's process-level wiring root: one
// explicit App struct holding every service, adapter, and controller
// (New opens the stores and hands them to the services and controllers
// that use them), constructed in dependency order and torn down in
// reverse (spec.md §9's re-architecture note), the same way the teacher's
// server.go builds a Server holding its k8sClient/clientset/restConfig
// and a single Run/Stop pair drives the whole thing.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/mellea/controlplane/internal/artifact"
	"github.com/mellea/controlplane/internal/buildcache"
	"github.com/mellea/controlplane/internal/config"
	"github.com/mellea/controlplane/internal/controllers"
	"github.com/mellea/controlplane/internal/controllers/idletimeout"
	"github.com/mellea/controlplane/internal/controllers/retention"
	"github.com/mellea/controlplane/internal/controllers/warmup"
	"github.com/mellea/controlplane/internal/credentials"
	"github.com/mellea/controlplane/internal/environment"
	"github.com/mellea/controlplane/internal/executor"
	"github.com/mellea/controlplane/internal/k8sadapter"
	"github.com/mellea/controlplane/internal/metrics"
	"github.com/mellea/controlplane/internal/model"
	"github.com/mellea/controlplane/internal/run"
	"github.com/mellea/controlplane/internal/store"
)

// App owns every long-lived collaborator the control plane needs,
// constructed once at startup and shut down in reverse order.
type App struct {
	Config config.Config
	log    logr.Logger

	Clientset kubernetes.Interface

	Environments *environment.Service
	Runs         *run.Service
	Artifacts    *artifact.Collector
	Credentials  credentials.Gateway
	BuildEngine  *buildcache.Engine
	Executor     *executor.Executor

	runJobs   *k8sadapter.RunJobs
	buildJobs *k8sadapter.BuildJobs

	warmupController      *warmup.Controller
	idleTimeoutController *idletimeout.Controller
	retentionController   *retention.Controller

	runners []*controllers.Runner
}

// New constructs every collaborator in dependency order: stores, then
// the Kubernetes Adapter, then services, then the Run Executor and
// Build/Cache Engine, then the three background controllers.
func New(cfg config.Config, log logr.Logger) (*App, error) {
	a := &App{Config: cfg, log: log.WithName("app")}

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes clientset: %w", err)
	}
	a.Clientset = clientset

	metaDir := filepath.Join(cfg.DataDir, "metadata")

	environmentsStore, err := store.New[model.Environment](filepath.Join(metaDir, "environments.json"), "environments")
	if err != nil {
		return nil, fmt.Errorf("open environments store: %w", err)
	}
	runsStore, err := store.New[model.Run](filepath.Join(metaDir, "runs.json"), "runs")
	if err != nil {
		return nil, fmt.Errorf("open runs store: %w", err)
	}
	programsStore, err := store.New[model.ProgramAsset](filepath.Join(metaDir, "programs.json"), "programs")
	if err != nil {
		return nil, fmt.Errorf("open programs store: %w", err)
	}
	artifactsStore, err := store.New[model.Artifact](filepath.Join(metaDir, "artifacts.json"), "artifacts")
	if err != nil {
		return nil, fmt.Errorf("open artifacts store: %w", err)
	}
	usageStore, err := store.New[model.ArtifactUsage](filepath.Join(metaDir, "artifact_usage.json"), "artifact_usage")
	if err != nil {
		return nil, fmt.Errorf("open artifact usage store: %w", err)
	}
	cacheStore, err := store.New[model.LayerCacheEntry](filepath.Join(metaDir, "layer_cache.json"), "layer_cache")
	if err != nil {
		return nil, fmt.Errorf("open layer cache store: %w", err)
	}
	policiesStore, err := store.New[model.RetentionPolicy](filepath.Join(metaDir, "retention_policies.json"), "retention_policies")
	if err != nil {
		return nil, fmt.Errorf("open retention policies store: %w", err)
	}

	a.runJobs = k8sadapter.NewRunJobs(clientset, cfg.RunsNamespace)
	a.buildJobs = k8sadapter.NewBuildJobs(clientset, cfg.BuildsNamespace, cfg.KanikoImage, cfg.RegistryURL, dockerConfigSecretName(cfg), cfg.BuildTimeout, cfg.BuildCPULimit, cfg.BuildMemoryLimit)

	credGateway, err := credentials.NewFileGateway(filepath.Join(metaDir, "credentials.json"))
	if err != nil {
		return nil, fmt.Errorf("open credentials store: %w", err)
	}
	a.Credentials = credGateway

	a.Environments = environment.New(environmentsStore, log)
	a.Runs = run.New(runsStore, log)
	a.Artifacts = artifact.New(artifactsStore, usageStore, filepath.Join(cfg.DataDir, "artifacts"), cfg.ArtifactRetentionDays, cfg.ArtifactMaxSingleSizeMB, log)

	var backendFactory buildcache.BackendFactory
	switch cfg.BuildBackend {
	case config.BuildBackendKaniko:
		buildJobs := a.buildJobs
		backendFactory = func(programID string) buildcache.Backend {
			return buildcache.NewKanikoBackend(buildJobs, programID, log)
		}
	default:
		daemon := buildcache.NewDaemonBackend("docker", log)
		backendFactory = func(programID string) buildcache.Backend { return daemon }
	}
	a.BuildEngine = buildcache.New(cacheStore, backendFactory, cfg.RegistryURL, log)

	a.Executor = executor.New(a.Runs, a.Environments, a.runJobs, a.Credentials, filepath.Join(cfg.DataDir, "outputs"), log)

	a.warmupController = warmup.New(a.Environments, programsStore, a.BuildEngine, cfg.WarmupPoolSize, cfg.WarmupMaxAge, cfg.WarmupPopularDepsCount, log)
	a.idleTimeoutController = idletimeout.New(a.Environments, a.Runs, cfg.EnvironmentIdleTimeout, time.Duration(cfg.RunRetentionDays)*24*time.Hour, log)
	a.retentionController = retention.New(policiesStore, a.Artifacts, artifactsStore, a.Runs, a.Environments, log)

	return a, nil
}

// dockerConfigSecretName returns the Secret name BuildJobs should mount
// for registry auth, or "" when no registry is configured (CreateBuildJob
// treats "" as "no docker config volume").
func dockerConfigSecretName(cfg config.Config) string {
	if cfg.RegistryURL == "" {
		return ""
	}
	return "mellea-registry-credentials"
}

// Start launches the three background controllers on their configured
// intervals, each running one cycle immediately before its first tick.
func (a *App) Start() {
	if a.Config.WarmupEnabled {
		r := controllers.NewRunner(a.Config.WarmupInterval, a.runWarmupCycle)
		a.runners = append(a.runners, r)
		r.Start(a.runWarmupCycle)
	}
	if a.Config.IdleControllerEnabled {
		r := controllers.NewRunner(a.Config.IdleControllerInterval, a.runIdleTimeoutCycle)
		a.runners = append(a.runners, r)
		r.Start(a.runIdleTimeoutCycle)
	}
	if a.Config.RetentionPolicyEnabled {
		r := controllers.NewRunner(a.Config.RetentionPolicyInterval, a.runRetentionCycle)
		a.runners = append(a.runners, r)
		r.Start(a.runRetentionCycle)
	}
}

// Stop halts every running controller, waiting for its in-flight cycle
// to finish, in the reverse order Start launched them.
func (a *App) Stop(ctx context.Context) {
	for i := len(a.runners) - 1; i >= 0; i-- {
		a.runners[i].Stop()
	}
}

func (a *App) runWarmupCycle() {
	m := a.warmupController.RunWarmupCycle()
	metrics.WarmPoolSize.Set(float64(m.WarmPoolSize))
	metrics.RecordControllerCycle("warmup", m.DurationSeconds, len(m.Errors))
	if len(m.Errors) > 0 {
		a.log.Info("warmup cycle completed with errors", "errors", m.Errors)
	}
}

func (a *App) runIdleTimeoutCycle() {
	m := a.idleTimeoutController.RunCleanupCycle()
	metrics.RecordControllerCycle("idle-timeout", m.DurationSeconds, len(m.Errors))
	if len(m.Errors) > 0 {
		a.log.Info("idle-timeout cycle completed with errors", "errors", m.Errors)
	}
}

func (a *App) runRetentionCycle() {
	m := a.retentionController.RunCleanupCycle()
	metrics.RecordControllerCycle("retention", m.DurationSeconds, len(m.Errors))
	if len(m.Errors) > 0 {
		a.log.Info("retention cycle completed with errors", "errors", m.Errors)
	}
}
