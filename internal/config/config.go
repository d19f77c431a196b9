// Copyright Contributors to the Mellea project

// Package config reads the control plane's environment-variable
// configuration once at startup, the same way the teacher's binaries
// read their env vars: a named constant per key and a plain
// os.Getenv/strconv lookup, no config file format and no third-party
// flags/viper layer.
package config

import (
	"os"
	"strconv"
	"time"
)

// Environment variable keys, matching spec.md §6 exactly.
const (
	envDataDir                       = "DATA_DIR"
	envBuildBackend                   = "BUILD_BACKEND"
	envRegistryURL                    = "REGISTRY_URL"
	envRegistryUsername               = "REGISTRY_USERNAME"
	envRegistryPassword               = "REGISTRY_PASSWORD"
	envKanikoImage                     = "KANIKO_IMAGE"
	envBuildTimeoutSeconds             = "BUILD_TIMEOUT_SECONDS"
	envBuildCPULimit                   = "BUILD_CPU_LIMIT"
	envBuildMemoryLimit                = "BUILD_MEMORY_LIMIT"
	envArtifactRetentionDays           = "ARTIFACT_RETENTION_DAYS"
	envArtifactMaxSingleSizeMB         = "ARTIFACT_MAX_SINGLE_SIZE_MB"
	envEnvironmentIdleTimeoutMinutes   = "ENVIRONMENT_IDLE_TIMEOUT_MINUTES"
	envRunRetentionDays                = "RUN_RETENTION_DAYS"
	envIdleControllerEnabled           = "IDLE_CONTROLLER_ENABLED"
	envIdleControllerIntervalSeconds   = "IDLE_CONTROLLER_INTERVAL_SECONDS"
	envWarmupEnabled                   = "WARMUP_ENABLED"
	envWarmupPoolSize                  = "WARMUP_POOL_SIZE"
	envWarmupMaxAgeMinutes             = "WARMUP_MAX_AGE_MINUTES"
	envWarmupIntervalSeconds           = "WARMUP_INTERVAL_SECONDS"
	envWarmupPopularDepsCount          = "WARMUP_POPULAR_DEPS_COUNT"
	envRetentionPolicyEnabled          = "RETENTION_POLICY_ENABLED"
	envRetentionPolicyIntervalSeconds  = "RETENTION_POLICY_INTERVAL_SECONDS"
	envCredentialsNamespace            = "CREDENTIALS_NAMESPACE"
	envRunsNamespace                   = "RUNS_NAMESPACE"
	envBuildsNamespace                 = "BUILDS_NAMESPACE"
	envMetricsBindAddress              = "METRICS_BIND_ADDRESS"
)

// BuildBackend selects the Build/Cache Engine backend.
type BuildBackend string

const (
	BuildBackendDaemon BuildBackend = "daemon"
	BuildBackendKaniko BuildBackend = "kaniko"
)

// Config is every knob the control plane reads once at startup.
type Config struct {
	DataDir string

	BuildBackend      BuildBackend
	RegistryURL       string
	RegistryUsername  string
	RegistryPassword  string
	KanikoImage       string
	BuildTimeout      time.Duration
	BuildCPULimit     string
	BuildMemoryLimit  string

	ArtifactRetentionDays   int
	ArtifactMaxSingleSizeMB int64

	EnvironmentIdleTimeout time.Duration
	RunRetentionDays       int

	IdleControllerEnabled  bool
	IdleControllerInterval time.Duration

	WarmupEnabled          bool
	WarmupPoolSize         int
	WarmupMaxAge           time.Duration
	WarmupInterval         time.Duration
	WarmupPopularDepsCount int

	RetentionPolicyEnabled  bool
	RetentionPolicyInterval time.Duration

	CredentialsNamespace string
	RunsNamespace        string
	BuildsNamespace      string
	MetricsBindAddress   string
}

// Load reads configuration from the process environment, applying the
// same defaults documented in spec.md §6.
func Load() Config {
	return Config{
		DataDir: getString(envDataDir, "/var/lib/mellea"),

		BuildBackend:     BuildBackend(getString(envBuildBackend, string(BuildBackendDaemon))),
		RegistryURL:      getString(envRegistryURL, ""),
		RegistryUsername: getString(envRegistryUsername, ""),
		RegistryPassword: getString(envRegistryPassword, ""),
		KanikoImage:      getString(envKanikoImage, "gcr.io/kaniko-project/executor:v1.19.0"),
		BuildTimeout:     getSeconds(envBuildTimeoutSeconds, 600),
		BuildCPULimit:    getString(envBuildCPULimit, "2"),
		BuildMemoryLimit: getString(envBuildMemoryLimit, "4Gi"),

		ArtifactRetentionDays:   getInt(envArtifactRetentionDays, 30),
		ArtifactMaxSingleSizeMB: getInt64(envArtifactMaxSingleSizeMB, 500),

		EnvironmentIdleTimeout: getMinutes(envEnvironmentIdleTimeoutMinutes, 30),
		RunRetentionDays:       getInt(envRunRetentionDays, 7),

		IdleControllerEnabled:  getBool(envIdleControllerEnabled, true),
		IdleControllerInterval: getSeconds(envIdleControllerIntervalSeconds, 60),

		WarmupEnabled:          getBool(envWarmupEnabled, true),
		WarmupPoolSize:         getInt(envWarmupPoolSize, 3),
		WarmupMaxAge:           getMinutes(envWarmupMaxAgeMinutes, 60),
		WarmupInterval:         getSeconds(envWarmupIntervalSeconds, 30),
		WarmupPopularDepsCount: getInt(envWarmupPopularDepsCount, 10),

		RetentionPolicyEnabled:  getBool(envRetentionPolicyEnabled, true),
		RetentionPolicyInterval: getSeconds(envRetentionPolicyIntervalSeconds, 3600),

		CredentialsNamespace: getString(envCredentialsNamespace, "mellea-credentials"),
		RunsNamespace:        getString(envRunsNamespace, "mellea-runs"),
		BuildsNamespace:      getString(envBuildsNamespace, "mellea-builds"),
		MetricsBindAddress:   getString(envMetricsBindAddress, ":9090"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getInt(key, defSeconds)) * time.Second
}

func getMinutes(key string, defMinutes int) time.Duration {
	return time.Duration(getInt(key, defMinutes)) * time.Minute
}
