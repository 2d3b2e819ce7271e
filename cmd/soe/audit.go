package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"datum-hq/soe/pkg/audit"
	"datum-hq/soe/pkg/cli"
	"datum-hq/soe/pkg/events"
	"datum-hq/soe/pkg/rules/gitsource"
	"datum-hq/soe/pkg/telemetry/health"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check audit readiness and trace plans to their standards",
}

var auditCheckCmd = &cobra.Command{
	Use:   "check <plan-id>",
	Short: "Run the integrity checklist for a plan",
	Long: `Run the integrity checklist for the latest version of a plan. Exits with
status 3 when the overall status is FAIL.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(checkPlan),
}

var auditTraceCmd = &cobra.Command{
	Use:   "trace <plan-id>",
	Short: "Map every plan item to its decision, profile and standard clause",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(tracePlan),
}

var auditEventsCmd = &cobra.Command{
	Use:   "events <plan|profile> <id>",
	Short: "List the audit events of a plan or profile",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(listEvents),
}

var auditSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Check every stored plan once",
	RunE:  withApp(sweepPlans),
}

var auditScheduleFlags struct {
	schedule        string
	listen          string
	shutdownTimeout time.Duration
}

var auditScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the integrity sweep on a cron schedule",
	Long: `Run the integrity sweep over every stored plan on a standard five-field cron
schedule until interrupted. With --listen, /metrics, /healthz, /readyz and
/version are served on the given address.

Examples:
  soe audit schedule --schedule "0 2 * * *"
  soe audit schedule --listen :9090`,
	RunE: withApp(scheduleSweep),
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditCheckCmd, auditTraceCmd, auditEventsCmd, auditSweepCmd, auditScheduleCmd)

	auditScheduleCmd.Flags().StringVar(&auditScheduleFlags.schedule, "schedule", "", "cron schedule (default from config)")
	auditScheduleCmd.Flags().StringVar(&auditScheduleFlags.listen, "listen", "", "address for metrics and health endpoints")
	auditScheduleCmd.Flags().DurationVar(&auditScheduleFlags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for the HTTP server on shutdown")
}

func checkPlan(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	cl := a.auditor().Check(ctx, args[0])
	if err := render(cmd, cl, func(w io.Writer) {
		for _, c := range cl.Checks {
			fmt.Fprintf(w, "%-5s %-28s %s\n", c.Status, c.ID, c.Message)
		}
		fmt.Fprintf(w, "\n%s\n", cl.Summary())
	}); err != nil {
		return err
	}
	if !cl.Passed() {
		return &cli.ExitError{
			Code:    cli.ExitAuditFailed,
			Message: fmt.Sprintf("plan %s is not audit ready: %s", cl.PlanID, cl.Summary()),
		}
	}
	return nil
}

func tracePlan(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	tr, err := a.auditor().Trace(ctx, args[0])
	if err != nil {
		return err
	}
	return render(cmd, tr, func(w io.Writer) {
		fmt.Fprintf(w, "Plan %s v%d", tr.PlanID, tr.PlanVersion)
		if tr.PolicyRunID != "" {
			fmt.Fprintf(w, " (run %s)", tr.PolicyRunID)
		}
		fmt.Fprintln(w)
		for _, l := range tr.ProfileStack {
			fmt.Fprintf(w, "  layer %d  %s (%s)\n", l.Layer, l.ProfileID, l.ProfileType)
		}
		fmt.Fprintln(w)
		for _, s := range tr.Steps {
			src := s.Trace.RuleID
			if s.Trace.SourceStandard != "" {
				src = fmt.Sprintf("%s %s", s.Trace.SourceStandard, s.Trace.StandardClause)
			}
			fmt.Fprintf(w, "  %-24s %s\n", s.StepTitle, src)
		}
	})
}

func listEvents(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	entityType := args[0]
	if entityType != events.EntityPlan && entityType != events.EntityProfile {
		return fmt.Errorf("unknown entity type %q: want %s or %s", entityType, events.EntityPlan, events.EntityProfile)
	}
	evts, err := a.store.ListEvents(ctx, entityType, args[1])
	if err != nil {
		return err
	}
	return render(cmd, evts, func(w io.Writer) { printEvents(w, evts) })
}

func sweepPlans(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	sched := audit.NewScheduler(a.auditor(), a.store, "")
	res, err := sched.Sweep(ctx)
	if err != nil {
		return err
	}
	if err := render(cmd, res, func(w io.Writer) {
		fmt.Fprintf(w, "checked %d plans, %d not audit ready\n", res.Checked, len(res.Failed))
		for _, id := range res.Failed {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}); err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return &cli.ExitError{
			Code:    cli.ExitAuditFailed,
			Message: fmt.Sprintf("%d of %d plans are not audit ready", len(res.Failed), res.Checked),
		}
	}
	return nil
}

func scheduleSweep(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
	schedule := auditScheduleFlags.schedule
	if schedule == "" {
		schedule = a.cfg.Audit.SweepSchedule
	}
	if schedule == "" {
		return fmt.Errorf("no sweep schedule: set audit.sweep_schedule or --schedule")
	}

	sched := audit.NewScheduler(a.auditor(), a.store, schedule)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	if next := sched.NextRun(); next != nil {
		a.logger.Info("next audit sweep", "at", next.Format(time.RFC3339))
	}

	if a.cfg.Rules.Watch {
		go func() {
			if err := a.filePacks().Watch(ctx, a.cfg.Rules.Debounce); err != nil {
				a.logger.Error("rule pack watcher stopped", "error", err)
			}
		}()
	}

	if git := a.cfg.Rules.Git; git.Enabled() && git.PollInterval > 0 {
		repo, err := a.gitRepo()
		if err != nil {
			return err
		}
		files := a.filePacks()
		go func() {
			err := repo.Poll(ctx, git.PollInterval, func(res *gitsource.SyncResult) {
				if err := files.Reload(); err != nil {
					a.logger.Warn("rule packs reloaded with errors", "sha", res.ToSHA, "error", err)
				}
			})
			if err != nil {
				a.logger.Error("rule repository poller stopped", "error", err)
			}
		}()
	}

	if auditScheduleFlags.listen == "" {
		<-ctx.Done()
		a.logger.Info("shutting down audit scheduler")
		return nil
	}
	return serveTelemetry(ctx, a, sched)
}

// serveTelemetry serves metrics and health endpoints until ctx is done.
func serveTelemetry(ctx context.Context, a *app, sched *audit.Scheduler) error {
	checker := health.New(5 * time.Second)
	checker.RegisterCheck("storage", health.StorageCheck(a.store))
	checker.RegisterCheck("audit_scheduler", health.RunningCheck("audit scheduler", sched))

	mux := http.NewServeMux()
	metricsPath := a.collector.Mount(mux, a.logger)
	health.Mount(mux, checker, Version)

	srv := &http.Server{
		Addr:              auditScheduleFlags.listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("serving telemetry", "address", srv.Addr, "metrics_path", metricsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("telemetry server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("initiating graceful shutdown", "timeout", auditScheduleFlags.shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), auditScheduleFlags.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("telemetry server shutdown: %w", err)
	}
	return nil
}
