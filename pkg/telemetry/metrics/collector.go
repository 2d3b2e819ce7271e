package metrics

import (
	"fmt"
	"sync"
	"time"

	"datum-hq/soe/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// otherLabel replaces label values once the cardinality limit is reached.
const otherLabel = "other"

// Collector owns the soe Prometheus metrics. It satisfies the observer
// interfaces of the policy engine, the plan governor, the profile lifecycle
// and the auditor, so one collector can be handed to all of them.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	runMetrics        *RunMetrics
	governanceMetrics *GovernanceMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics. A nil registry
// gets a fresh one.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	eng, _ := engine.New(engCfg, packs, profiles, engine.WithObserver(collector))
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		runMetrics:         NewRunMetrics(cfg, registry),
		governanceMetrics:  NewGovernanceMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}
}

// ObserveRun records a completed policy run.
func (c *Collector) ObserveRun(industry string, decisions int, blocked bool, warnings int, duration time.Duration) {
	if !c.config.IsEnabled() {
		return
	}
	if !c.cardinalityLimiter.Allow(fmt.Sprintf("run:%s", industry)) {
		industry = otherLabel
	}
	c.runMetrics.RecordRun(industry, decisions, blocked, warnings, duration)
}

// ObservePlanTransition records a plan state change.
func (c *Collector) ObservePlanTransition(action string, from, to string) {
	if !c.config.IsEnabled() {
		return
	}
	c.governanceMetrics.RecordTransition("plan", action, from, to)
}

// ObservePlanEdit records an applied plan edit and how many overrides it
// carried.
func (c *Collector) ObservePlanEdit(overrides int) {
	if !c.config.IsEnabled() {
		return
	}
	c.governanceMetrics.RecordEdit(overrides)
}

// RecordProfileTransition records a profile lifecycle change.
func (c *Collector) RecordProfileTransition(action string, from, to string) {
	if !c.config.IsEnabled() {
		return
	}
	c.governanceMetrics.RecordTransition("profile", action, from, to)
}

// ObserveAudit records the overall status of an integrity check.
func (c *Collector) ObserveAudit(status string) {
	if !c.config.IsEnabled() {
		return
	}
	c.governanceMetrics.RecordAudit(status)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct label sets a metric may
// carry.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing maxCardinality label sets.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is already known or still fits under the
// limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
