package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// PlanLister enumerates stored plans.
type PlanLister interface {
	ListPlanIDs(ctx context.Context) ([]string, error)
}

// SweepResult summarizes one pass over every stored plan.
type SweepResult struct {
	Checked int      `json:"checked"`
	Failed  []string `json:"failed"`
}

// Scheduler runs integrity checks over every stored plan on a cron schedule.
type Scheduler struct {
	auditor  *Auditor
	plans    PlanLister
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a sweep scheduler. An empty schedule disables it.
func NewScheduler(auditor *Auditor, plans PlanLister, schedule string) *Scheduler {
	return &Scheduler{
		auditor:  auditor,
		plans:    plans,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "audit.scheduler"),
	}
}

// Start schedules the sweep. The schedule uses standard five-field cron
// syntax, e.g. "0 2 * * *" for daily at 2 AM. The scheduler stops when ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("audit sweep schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.runSweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule audit sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("audit scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Sweep checks every stored plan once.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	ids, err := s.plans.ListPlanIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	res := &SweepResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cl := s.auditor.Check(ctx, id)
		res.Checked++
		if !cl.Passed() {
			res.Failed = append(res.Failed, id)
		}
	}
	return res, nil
}

func (s *Scheduler) runSweep(ctx context.Context) {
	s.logger.Info("starting scheduled audit sweep")

	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("scheduled audit sweep failed", "error", err)
		return
	}
	if len(res.Failed) > 0 {
		s.logger.Warn("audit sweep found plans that are not audit ready",
			"checked", res.Checked,
			"failed", len(res.Failed),
			"plan_ids", res.Failed,
		)
		return
	}
	s.logger.Info("audit sweep completed", "checked", res.Checked)
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("audit scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep, or nil when none is scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
