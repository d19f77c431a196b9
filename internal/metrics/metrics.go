// Copyright Contributors to the Mellea project

// Package metrics registers the control plane's prometheus collectors at
// startup, the way the teacher documents (but never itself codes, since
// controller-runtime's manager wires it for free) its
// "--metrics-bind-address" convention. Every background controller and
// state-machine transition records here instead of only logging.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RunTransitions counts every successful Run state transition.
	RunTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mellea_run_transitions_total",
		Help: "Total Run state transitions, labeled by from/to state.",
	}, []string{"from", "to"})

	// EnvironmentTransitions counts every successful Environment state transition.
	EnvironmentTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mellea_environment_transitions_total",
		Help: "Total Environment state transitions, labeled by from/to state.",
	}, []string{"from", "to"})

	// CacheHits/CacheMisses count Build/Cache Engine dependency-layer lookups.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mellea_build_cache_hits_total",
		Help: "Dependency layer cache hits.",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mellea_build_cache_misses_total",
		Help: "Dependency layer cache misses (a fresh deps image had to be built).",
	})

	// BuildDuration observes BuildImage wall-clock time per stage.
	BuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mellea_build_duration_seconds",
		Help:    "BuildImage duration, labeled by stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// ControllerCycleDuration observes each background controller's cycle time.
	ControllerCycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mellea_controller_cycle_duration_seconds",
		Help:    "Background controller cycle duration, labeled by controller name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"controller"})

	// ControllerErrors counts per-cycle errors collected into a cycle's metrics object.
	ControllerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mellea_controller_errors_total",
		Help: "Errors recorded during a background controller cycle, labeled by controller name.",
	}, []string{"controller"})

	// WarmPoolSize gauges the Warmup Controller's current READY pool size.
	WarmPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mellea_warm_pool_size",
		Help: "Current number of READY warm environments.",
	})
)

// Registry is the prometheus registry the control plane serves on
// metrics_bind_address, kept separate from the global default registry so
// tests can construct a fresh one per case.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		RunTransitions,
		EnvironmentTransitions,
		CacheHits,
		CacheMisses,
		BuildDuration,
		ControllerCycleDuration,
		ControllerErrors,
		WarmPoolSize,
	)
}

// RecordRunTransition records a Run state transition.
func RecordRunTransition(from, to string) {
	RunTransitions.WithLabelValues(from, to).Inc()
}

// RecordEnvironmentTransition records an Environment state transition.
func RecordEnvironmentTransition(from, to string) {
	EnvironmentTransitions.WithLabelValues(from, to).Inc()
}

// RecordCacheLookup records a Build/Cache Engine dependency-layer lookup outcome.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheHits.Inc()
		return
	}
	CacheMisses.Inc()
}

// RecordControllerCycle records one background controller cycle's
// duration and error count.
func RecordControllerCycle(name string, durationSeconds float64, errCount int) {
	ControllerCycleDuration.WithLabelValues(name).Observe(durationSeconds)
	if errCount > 0 {
		ControllerErrors.WithLabelValues(name).Add(float64(errCount))
	}
}
