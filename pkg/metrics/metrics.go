// Package metrics exposes the run's Prometheus instrumentation (SPEC_FULL.md
// §11's domain stack): per-run and per-host-outcome counters plus a compile
// duration histogram, registered against a package-level registry and served
// by promhttp.Handler() from cmd/puppet-compiler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wikimedia/puppet-compiler/pkg/outcome"
)

var (
	// RunsTotal counts completed runs, partitioned by whether the run as a
	// whole was classified failed (spec.md §4.7 step 6).
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "puppet_compiler_runs_total",
		Help: "Total number of completed puppet-compiler runs, by result.",
	}, []string{"result"})

	// HostOutcomesTotal counts terminal per-host outcomes, by label.
	HostOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "puppet_compiler_host_outcomes_total",
		Help: "Total number of host compilations, by terminal outcome.",
	}, []string{"outcome"})

	// CompileDuration measures wall-clock time of a single Compiler.Compile
	// call, by tree label (base/change).
	CompileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "puppet_compiler_compile_duration_seconds",
		Help:    "Duration of a single host compile, by tree label.",
		Buckets: prometheus.DefBuckets,
	}, []string{"label"})

	// ActiveWorkers tracks the scheduler's current in-flight worker count.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "puppet_compiler_active_workers",
		Help: "Number of host workers currently running.",
	})
)

// ObserveHostOutcome increments HostOutcomesTotal for o.
func ObserveHostOutcome(o outcome.Outcome) {
	HostOutcomesTotal.WithLabelValues(string(o)).Inc()
}

// ObserveRun increments RunsTotal for a finished run.
func ObserveRun(failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	RunsTotal.WithLabelValues(result).Inc()
}
