// Package metrics exposes Prometheus metrics for policy runs and plan and
// profile governance.
//
// A single Collector implements the observer hooks of the policy engine, the
// plan governor, the profile lifecycle and the auditor:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	eng, _ := engine.New(engCfg, packs, profiles, engine.WithObserver(collector))
//	gov := plan.NewGovernor(store, plan.WithObserver(collector))
//	collector.Mount(mux, logger)
//
// Industry labels are capped by a CardinalityLimiter; values past the cap are
// reported as "other".
package metrics
