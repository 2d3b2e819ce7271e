// Package telemetry groups the observability packages used by soe.
//
// # Components
//
//   - logging: slog setup and context correlation attributes
//   - metrics: Prometheus collectors for policy runs and governance actions
//   - health: liveness and readiness checks served by the audit scheduler
//
// # Usage
//
//	cfg := config.GetConfig()
//	logger, err := logging.Setup(logging.Config{
//		Level:  cfg.Telemetry.Logging.Level,
//		Format: cfg.Telemetry.Logging.Format,
//	})
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	eng, err := engine.New(engCfg, packs, profiles, engine.WithObserver(collector))
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("storage", health.StorageCheck(store))
//	health.Mount(mux, checker, version)
//	collector.Mount(mux, logger)
package telemetry
