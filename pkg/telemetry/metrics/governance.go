package metrics

import (
	"datum-hq/soe/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// GovernanceMetrics tracks plan and profile review activity.
//
// Metrics:
//   - soe_state_transitions_total: transitions by entity (plan, profile), action, from and to state
//   - soe_plan_edits_total: applied plan edits
//   - soe_plan_overrides_total: overrides recorded by plan edits
//   - soe_audit_checks_total: integrity checks by overall status
type GovernanceMetrics struct {
	transitionsTotal *prometheus.CounterVec
	editsTotal       prometheus.Counter
	overridesTotal   prometheus.Counter
	auditChecksTotal *prometheus.CounterVec
}

// NewGovernanceMetrics creates and registers governance metrics.
func NewGovernanceMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *GovernanceMetrics {
	gm := &GovernanceMetrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "state_transitions_total",
				Help:      "Total number of plan and profile state transitions",
			},
			[]string{"entity", "action", "from", "to"},
		),

		editsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "plan_edits_total",
				Help:      "Total number of applied plan edits",
			},
		),

		overridesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "plan_overrides_total",
				Help:      "Total number of overrides recorded by plan edits",
			},
		),

		auditChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_checks_total",
				Help:      "Total number of audit integrity checks by overall status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		gm.transitionsTotal,
		gm.editsTotal,
		gm.overridesTotal,
		gm.auditChecksTotal,
	)

	return gm
}

// RecordTransition records a state change of a plan or profile.
func (gm *GovernanceMetrics) RecordTransition(entity, action, from, to string) {
	gm.transitionsTotal.WithLabelValues(entity, action, from, to).Inc()
}

// RecordEdit records one applied edit with its override count.
func (gm *GovernanceMetrics) RecordEdit(overrides int) {
	gm.editsTotal.Inc()
	if overrides > 0 {
		gm.overridesTotal.Add(float64(overrides))
	}
}

// RecordAudit records one integrity check result.
func (gm *GovernanceMetrics) RecordAudit(status string) {
	gm.auditChecksTotal.WithLabelValues(status).Inc()
}
