// Package health provides liveness and readiness checks for long-running soe
// processes such as the audit sweep daemon.
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("storage", health.StorageCheck(store))
//	checker.RegisterCheck("audit_scheduler", health.RunningCheck("audit scheduler", sched))
//	health.Mount(mux, checker, version)
package health
