// Package metrics holds the Prometheus collectors shared across koda.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Tool call outcomes used as the status label.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusUnknown  = "unknown"
	StatusDenied   = "denied"
	StatusPanicked = "panic"
)

// Metrics holds the process-wide collectors.
type Metrics struct {
	// Tool dispatch
	ToolCallsTotal *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec

	// Run lifecycle
	PhaseTransitionsTotal *prometheus.CounterVec
	RunsFinishedTotal     *prometheus.CounterVec
	ActiveRuns            prometheus.Gauge
	StagedChangesTotal    *prometheus.CounterVec

	// Summary cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Model usage
	TokensTotal *prometheus.CounterVec
}

// Default returns the collectors registered with the default registry.
// Registration happens once per process.
//
// Metrics:
//   - koda_tool_calls_total{tool,status}
//   - koda_tool_duration_seconds{tool}
//   - koda_phase_transitions_total{phase}
//   - koda_runs_finished_total{outcome}
//   - koda_active_runs
//   - koda_staged_changes_total{kind,decision}
//   - koda_summary_cache_hits_total / koda_summary_cache_misses_total
//   - koda_tokens_total{direction}
func Default() *Metrics {
	once.Do(func() {
		global = newMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return global
}

// New registers a fresh set of collectors with reg. Tests use it with a
// private registry.
func New(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		ToolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koda_tool_calls_total",
				Help: "Total number of tool calls dispatched",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "koda_tool_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
			},
			[]string{"tool"},
		),
		PhaseTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koda_phase_transitions_total",
				Help: "Total number of phase transitions by target phase",
			},
			[]string{"phase"},
		),
		RunsFinishedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koda_runs_finished_total",
				Help: "Total number of runs that reached a terminal phase",
			},
			[]string{"outcome"}, // "applied", "rejected", "no_changes", "error"
		),
		ActiveRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "koda_active_runs",
				Help: "Runs currently executing or awaiting approval",
			},
		),
		StagedChangesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koda_staged_changes_total",
				Help: "Staged changes resolved by an approval decision",
			},
			[]string{"kind", "decision"},
		),
		CacheHitsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "koda_summary_cache_hits_total",
				Help: "Total number of summary cache hits",
			},
		),
		CacheMissesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "koda_summary_cache_misses_total",
				Help: "Total number of summary cache misses",
			},
		),
		TokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "koda_tokens_total",
				Help: "Model tokens consumed",
			},
			[]string{"direction"}, // "input" or "output"
		),
	}
}
