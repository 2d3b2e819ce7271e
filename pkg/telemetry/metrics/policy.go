package metrics

import (
	"time"

	"datum-hq/soe/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics tracks policy runs.
//
// Metrics:
//   - soe_policy_runs_total: runs by industry and outcome (clear, blocked)
//   - soe_policy_decisions_total: decisions produced, by industry
//   - soe_policy_warnings_total: run warnings, by industry
//   - soe_policy_run_duration_seconds: evaluation time per run
type RunMetrics struct {
	runsTotal      *prometheus.CounterVec
	decisionsTotal *prometheus.CounterVec
	warningsTotal  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
}

// NewRunMetrics creates and registers run metrics with the provided registry.
func NewRunMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RunMetrics {
	rm := &RunMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_runs_total",
				Help:      "Total number of policy runs",
			},
			[]string{"industry", "outcome"},
		),

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_decisions_total",
				Help:      "Total number of decisions produced by policy runs",
			},
			[]string{"industry"},
		),

		warningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_warnings_total",
				Help:      "Total number of warnings raised by policy runs",
			},
			[]string{"industry"},
		),

		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_run_duration_seconds",
				Help:      "Duration of policy runs in seconds",
				// 10µs to ~160ms
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
			},
			[]string{"industry"},
		),
	}

	registry.MustRegister(
		rm.runsTotal,
		rm.decisionsTotal,
		rm.warningsTotal,
		rm.runDuration,
	)

	return rm
}

// RecordRun records one completed run.
func (rm *RunMetrics) RecordRun(industry string, decisions int, blocked bool, warnings int, duration time.Duration) {
	outcome := "clear"
	if blocked {
		outcome = "blocked"
	}
	rm.runsTotal.WithLabelValues(industry, outcome).Inc()
	rm.decisionsTotal.WithLabelValues(industry).Add(float64(decisions))
	if warnings > 0 {
		rm.warningsTotal.WithLabelValues(industry).Add(float64(warnings))
	}
	rm.runDuration.WithLabelValues(industry).Observe(duration.Seconds())
}
