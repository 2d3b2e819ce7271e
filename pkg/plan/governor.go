package plan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"datum-hq/soe/pkg/events"
)

// Repository stores plan versions. CreatePlanVersion is the only way a new
// version comes into being and must be atomic: it succeeds only when the
// plan's ParentVersion is the latest stored version (or when the lineage is
// empty and the plan is version 1), and fails with ErrVersionConflict
// otherwise. The parent must also still be an unlocked draft; an approved or
// locked parent fails with ErrPlanLocked and a submitted one with
// ErrInvalidTransition.
//
// UpdatePlanState is the state compare-and-swap: it fails with
// ErrStateConflict unless the stored version is the latest and is still in
// the expected state.
type Repository interface {
	// LoadPlan returns the latest version of a lineage.
	LoadPlan(ctx context.Context, id string) (*Plan, error)

	// LoadPlanVersion returns one version of a lineage.
	LoadPlanVersion(ctx context.Context, id string, version int) (*Plan, error)

	// ListPlanVersions returns every version, oldest first.
	ListPlanVersions(ctx context.Context, id string) ([]*Plan, error)

	// CreatePlanVersion stores a new version with compare-and-swap
	// semantics on ParentVersion.
	CreatePlanVersion(ctx context.Context, p *Plan) error

	// UpdatePlanState replaces the lifecycle fields of the latest
	// version: State, Locked, LockID, ApprovedBy, ApprovedAt and UpdatedAt.
	// from is the state the caller observed before the change.
	UpdatePlanState(ctx context.Context, p *Plan, from State) error
}

// Governor owns derived plans: it is the only writer of plan versions and
// enforces the plan state machine and lock preservation.
type Governor struct {
	repo Repository
	opts options
}

// NewGovernor creates a governor over repo.
func NewGovernor(repo Repository, opts ...Option) *Governor {
	return &Governor{
		repo: repo,
		opts: newOptions(opts).withComponent("plan.governor"),
	}
}

// Create stores a freshly derived plan as version 1 of its lineage.
func (g *Governor) Create(ctx context.Context, p *Plan) error {
	if p.Version != 1 || p.ParentVersion != 0 {
		return fmt.Errorf("%w: new plan %s must be version 1 without a parent", ErrInvalidEdit, p.ID)
	}
	if p.State != StateDraft || p.Locked {
		return fmt.Errorf("%w: new plan %s must be an unlocked draft", ErrInvalidEdit, p.ID)
	}
	if err := g.repo.CreatePlanVersion(ctx, p); err != nil {
		return fmt.Errorf("store plan %s: %w", p.ID, err)
	}
	g.opts.logger.Info("plan created", "plan_id", p.ID, "steps", len(p.Steps))
	return nil
}

// Submit moves the latest version from draft to submitted.
func (g *Governor) Submit(ctx context.Context, id, userID, reason string) (*Plan, error) {
	p, err := g.repo.LoadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.State != StateDraft {
		return nil, &TransitionError{PlanID: id, From: p.State, Action: "submit", Cause: ErrInvalidTransition}
	}
	if len(p.Steps) == 0 {
		return nil, &TransitionError{PlanID: id, From: p.State, Action: "submit", Cause: ErrNoSteps}
	}
	if reason == "" {
		reason = "Plan submitted for approval"
	}
	return g.transition(ctx, p, events.ActionSubmit, StateSubmitted, userID, reason)
}

// Approve moves a submitted plan to approved and locks it.
func (g *Governor) Approve(ctx context.Context, id, userID, reason string) (*Plan, error) {
	p, err := g.repo.LoadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.State != StateSubmitted {
		return nil, &TransitionError{PlanID: id, From: p.State, Action: "approve", Cause: ErrInvalidTransition}
	}
	if reason == "" {
		reason = "Plan approved"
	}
	return g.transition(ctx, p, events.ActionApprove, StateApproved, userID, reason)
}

// Reject returns a submitted plan to draft. reason is required.
func (g *Governor) Reject(ctx context.Context, id, userID, reason string) (*Plan, error) {
	p, err := g.repo.LoadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.State != StateSubmitted {
		return nil, &TransitionError{PlanID: id, From: p.State, Action: "reject", Cause: ErrInvalidTransition}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &TransitionError{PlanID: id, From: p.State, Action: "reject", Cause: ErrReasonRequired}
	}
	return g.transition(ctx, p, events.ActionReject, StateDraft, userID, reason)
}

func (g *Governor) transition(ctx context.Context, current *Plan, action events.Action, to State, userID, reason string) (*Plan, error) {
	now := g.opts.clock().UTC()
	from := current.State

	next := current.Clone()
	next.State = to
	next.UpdatedAt = now
	if to == StateApproved {
		next.Locked = true
		next.LockID = "lock_" + g.opts.newID()
		next.ApprovedBy = userID
		next.ApprovedAt = &now
	}

	if err := g.repo.UpdatePlanState(ctx, next, from); err != nil {
		if errors.Is(err, ErrStateConflict) {
			g.opts.logger.Warn("plan transition lost state race", "plan_id", next.ID, "action", action, "from", from)
		}
		return nil, fmt.Errorf("store plan %s: %w", next.ID, err)
	}

	ev := events.New(events.EntityPlan, next.ID, action, userID, now, reason)
	ev.Details = map[string]string{
		"from":    string(from),
		"to":      string(to),
		"version": strconv.Itoa(next.Version),
	}
	if err := g.opts.recorder.Record(ctx, ev); err != nil {
		g.opts.logger.Error("failed to record plan event", "plan_id", next.ID, "action", action, "error", err)
	}
	if g.opts.observer != nil {
		g.opts.observer.ObservePlanTransition(string(action), string(from), string(to))
	}

	g.opts.logger.Info("plan state changed",
		"plan_id", next.ID,
		"version", next.Version,
		"action", action,
		"from", from,
		"to", to,
		"user_id", userID,
	)
	return next, nil
}

// ApplyEdit applies changes to base and stores the result as version
// base.Version+1. base must be the latest version; if another edit got there
// first the result is ErrVersionConflict and nothing is stored. The stored
// version, not only the caller's copy, must be an unlocked draft. Touching a
// locked item fails with a LockViolationError unless opts allow overrides
// and carry a reason, in which case every touch is recorded as an override.
func (g *Governor) ApplyEdit(ctx context.Context, base *Plan, changes Changes, opts EditOptions) (*Plan, error) {
	if err := checkEditable(base); err != nil {
		return nil, err
	}
	stored, err := g.repo.LoadPlanVersion(ctx, base.ID, base.Version)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(stored); err != nil {
		return nil, err
	}

	edited := changes.apply(base)
	if err := normalizeSteps(edited, opts.Reason); err != nil {
		return nil, err
	}

	now := g.opts.clock().UTC()
	violations := CheckLocks(base, edited)
	var overrides []Override
	if len(violations) > 0 {
		if !opts.AllowOverrides {
			return nil, &LockViolationError{PlanID: base.ID, Violations: violations, Cause: ErrLockViolation}
		}
		if strings.TrimSpace(opts.OverrideReason) == "" {
			return nil, &LockViolationError{PlanID: base.ID, Violations: violations, Cause: ErrReasonRequired}
		}
		for _, v := range violations {
			overrides = append(overrides, Override{
				Constraint: v.Constraint,
				Reason:     opts.OverrideReason,
				UserID:     opts.UserID,
				Timestamp:  now,
			})
		}
	}

	edited.Version = base.Version + 1
	edited.ParentVersion = base.Version
	edited.State = StateDraft
	edited.Locked = false
	edited.LockID = ""
	edited.ApprovedBy = ""
	edited.ApprovedAt = nil
	edited.UpdatedAt = now
	edited.EditMetadata = &EditMetadata{
		EditedBy:   opts.UserID,
		EditedAt:   now,
		EditReason: opts.Reason,
		Overrides:  overrides,
	}

	if err := g.repo.CreatePlanVersion(ctx, edited); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			g.opts.logger.Warn("plan edit lost version race", "plan_id", base.ID, "base_version", base.Version)
		}
		return nil, fmt.Errorf("store plan %s version %d: %w", edited.ID, edited.Version, err)
	}

	g.recordEdit(ctx, edited, opts, overrides, now)
	return edited, nil
}

// checkEditable reports whether p may be the base of an edit.
func checkEditable(p *Plan) error {
	if p.Locked || p.State == StateApproved {
		return &TransitionError{PlanID: p.ID, From: p.State, Action: "edit", Cause: ErrPlanLocked}
	}
	if p.State != StateDraft {
		return &TransitionError{PlanID: p.ID, From: p.State, Action: "edit", Cause: ErrInvalidTransition}
	}
	return nil
}

func (g *Governor) recordEdit(ctx context.Context, p *Plan, opts EditOptions, overrides []Override, now time.Time) {
	version := strconv.Itoa(p.Version)
	ev := events.New(events.EntityPlan, p.ID, events.ActionEdit, opts.UserID, now, opts.Reason)
	ev.Details = map[string]string{
		"version":        version,
		"parent_version": strconv.Itoa(p.ParentVersion),
	}
	if err := g.opts.recorder.Record(ctx, ev); err != nil {
		g.opts.logger.Error("failed to record plan event", "plan_id", p.ID, "action", events.ActionEdit, "error", err)
	}
	for _, o := range overrides {
		ov := events.New(events.EntityPlan, p.ID, events.ActionOverride, o.UserID, now, o.Reason)
		ov.Details = map[string]string{"version": version, "constraint": o.Constraint}
		if err := g.opts.recorder.Record(ctx, ov); err != nil {
			g.opts.logger.Error("failed to record plan event", "plan_id", p.ID, "action", events.ActionOverride, "error", err)
		}
	}
	if g.opts.observer != nil {
		g.opts.observer.ObservePlanEdit(len(overrides))
	}

	g.opts.logger.Info("plan edited",
		"plan_id", p.ID,
		"version", p.Version,
		"parent_version", p.ParentVersion,
		"overrides", len(overrides),
		"user_id", opts.UserID,
	)
}

// History returns every version of a plan, oldest first.
func (g *Governor) History(ctx context.Context, id string) ([]*Plan, error) {
	return g.repo.ListPlanVersions(ctx, id)
}
