package audit

import (
	"context"
	"log/slog"
	"time"

	"datum-hq/soe/pkg/plan"
	"datum-hq/soe/pkg/policy/engine"
	"datum-hq/soe/pkg/profile"
)

// PlanSource loads the latest version of a plan.
type PlanSource interface {
	LoadPlan(ctx context.Context, id string) (*plan.Plan, error)
}

// RunSource loads stored policy runs.
type RunSource interface {
	LoadRun(ctx context.Context, id string) (*engine.PolicyRun, error)
}

// Observer is told the outcome of every integrity check.
type Observer interface {
	ObserveAudit(status string)
}

// Auditor answers audit questions about stored plans: where each item comes
// from and whether the plan is ready to be audited.
type Auditor struct {
	plans    PlanSource
	runs     RunSource
	profiles profile.Repository
	resolver *profile.Resolver
	observer Observer
	clock    func() time.Time
	logger   *slog.Logger
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithClock sets the time source used to stamp checklists.
func WithClock(clock func() time.Time) Option {
	return func(a *Auditor) { a.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Auditor) { a.logger = logger }
}

// WithObserver sets the audit observer.
func WithObserver(o Observer) Option {
	return func(a *Auditor) { a.observer = o }
}

// New creates an auditor. runs and profiles may be nil; the checks that need
// them then report that nothing could be verified.
func New(plans PlanSource, runs RunSource, profiles profile.Repository, opts ...Option) *Auditor {
	a := &Auditor{
		plans:    plans,
		runs:     runs,
		profiles: profiles,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if profiles != nil {
		a.resolver = profile.NewResolver(profiles, a.logger)
	}
	a.logger = a.logger.With("component", "audit")
	return a
}

func (a *Auditor) loadRun(ctx context.Context, id string) *engine.PolicyRun {
	if id == "" || a.runs == nil {
		return nil
	}
	run, err := a.runs.LoadRun(ctx, id)
	if err != nil {
		a.logger.Debug("policy run unavailable", "soe_run_id", id, "error", err)
		return nil
	}
	return run
}

// resolveStack resolves the profiles a run used. A stack that no longer
// resolves cleanly yields nil.
func (a *Auditor) resolveStack(ctx context.Context, run *engine.PolicyRun) []*profile.Profile {
	if run == nil || len(run.ActiveProfiles) == 0 || a.resolver == nil {
		return nil
	}
	stack, errs := a.resolver.Resolve(ctx, run.ActiveProfiles)
	if len(errs) > 0 {
		a.logger.Warn("recorded profile stack no longer resolves",
			"soe_run_id", run.ID,
			"errors", len(errs),
		)
		return nil
	}
	return stack
}
