package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"datum-hq/soe/pkg/events"
)

// CanTransition reports whether a profile may move from one state to another.
// Approved profiles only move on to deprecated; rejection sends a submitted
// profile back to draft.
func CanTransition(from, to State) bool {
	switch from {
	case StateDraft:
		return to == StateSubmitted
	case StateSubmitted:
		return to == StateApproved || to == StateDraft || to == StateDeprecated
	case StateApproved:
		return to == StateDeprecated
	default:
		return false
	}
}

// CanModify reports whether the content of p may be edited in place.
func CanModify(p *Profile) bool {
	switch p.State() {
	case StateDraft, StateSubmitted, StateRejected:
		return true
	default:
		return false
	}
}

// TransitionObserver is told about every completed transition.
type TransitionObserver interface {
	RecordProfileTransition(action string, from, to string)
}

// Lifecycle manages profile review states.
type Lifecycle struct {
	repo     StateRepository
	recorder events.Recorder
	observer TransitionObserver
	clock    func() time.Time
	logger   *slog.Logger
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithClock sets the time source used for state metadata and events.
func WithClock(clock func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.clock = clock }
}

// WithRecorder sets where audit events go.
func WithRecorder(r events.Recorder) LifecycleOption {
	return func(l *Lifecycle) { l.recorder = r }
}

// WithObserver sets a transition observer, typically the metrics collector.
func WithObserver(o TransitionObserver) LifecycleOption {
	return func(l *Lifecycle) { l.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) { l.logger = logger }
}

// NewLifecycle creates a lifecycle manager over repo.
func NewLifecycle(repo StateRepository, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		repo:     repo,
		recorder: events.Discard,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "profile.lifecycle")
	return l
}

// Submit moves a draft profile to submitted.
func (l *Lifecycle) Submit(ctx context.Context, id, userID string) (*Profile, error) {
	return l.transition(ctx, id, userID, "", StateSubmitted, events.ActionSubmit, nil)
}

// Approve moves a submitted profile to approved. Approved profiles are
// immutable.
func (l *Lifecycle) Approve(ctx context.Context, id, userID string) (*Profile, error) {
	return l.transition(ctx, id, userID, "", StateApproved, events.ActionApprove, nil)
}

// Reject sends a submitted profile back to draft. A reason is required.
func (l *Lifecycle) Reject(ctx context.Context, id, userID, reason string) (*Profile, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &TransitionError{ProfileID: id, Action: "reject", Cause: ErrReasonRequired}
	}
	return l.transition(ctx, id, userID, reason, StateDraft, events.ActionReject, nil)
}

// Deprecate retires an approved or submitted profile, optionally naming the
// profiles that supersede it. A reason is required.
func (l *Lifecycle) Deprecate(ctx context.Context, id, userID, reason string, supersededBy []string) (*Profile, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &TransitionError{ProfileID: id, Action: "deprecate", Cause: ErrReasonRequired}
	}
	return l.transition(ctx, id, userID, reason, StateDeprecated, events.ActionDeprecate, func(p *Profile) {
		for _, s := range supersededBy {
			if !containsString(p.Metadata.SupersededBy, s) {
				p.Metadata.SupersededBy = append(p.Metadata.SupersededBy, s)
			}
		}
	})
}

// Update replaces the content of a profile that is still editable. State
// metadata is kept from the stored profile.
func (l *Lifecycle) Update(ctx context.Context, p *Profile) error {
	current, err := l.repo.LoadProfile(ctx, p.ID)
	if err != nil {
		return err
	}
	if !CanModify(current) {
		return &TransitionError{ProfileID: p.ID, From: current.State(), Action: "modify", Cause: ErrNotModifiable}
	}
	updated := p.Clone()
	updated.Metadata = current.Metadata
	return l.repo.CompareAndSaveProfile(ctx, updated, current.State())
}

// ValidateForUse is the gate a consumer calls before trusting a profile.
// Deprecated and rejected profiles are never usable; drafts only when
// allowDraft is set.
func (l *Lifecycle) ValidateForUse(ctx context.Context, id string, allowDraft bool) error {
	p, err := l.repo.LoadProfile(ctx, id)
	if err != nil {
		return err
	}
	return CheckUsable(p, allowDraft)
}

// CheckUsable applies the ValidateForUse rules to an already loaded profile.
func CheckUsable(p *Profile, allowDraft bool) error {
	switch state := p.State(); state {
	case StateDeprecated:
		msg := "is deprecated and cannot be used in production plans"
		if len(p.Metadata.SupersededBy) > 0 {
			msg += fmt.Sprintf(" (superseded by %s)", strings.Join(p.Metadata.SupersededBy, ", "))
		}
		return &UsabilityError{ProfileID: p.ID, State: state, Message: msg}
	case StateRejected:
		return &UsabilityError{ProfileID: p.ID, State: state, Message: "is rejected and cannot be used"}
	case StateDraft:
		if !allowDraft {
			return &UsabilityError{ProfileID: p.ID, State: state,
				Message: "is in draft state and cannot be used in production plans; only approved profiles are allowed"}
		}
	}
	return nil
}

func (l *Lifecycle) transition(ctx context.Context, id, userID, reason string, to State, action events.Action, mutate func(*Profile)) (*Profile, error) {
	current, err := l.repo.LoadProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	from := current.State()
	if !CanTransition(from, to) {
		return nil, &TransitionError{ProfileID: id, From: from, Action: strings.ToLower(string(action)), Cause: ErrInvalidTransition}
	}

	now := l.clock().UTC()
	next := current.Clone()
	next.Metadata.State = to
	next.Metadata.StateUpdatedAt = now
	next.Metadata.StateUpdatedBy = userID
	next.Metadata.StateReason = reason
	if mutate != nil {
		mutate(next)
	}

	if err := l.repo.CompareAndSaveProfile(ctx, next, from); err != nil {
		if errors.Is(err, ErrStateConflict) {
			l.logger.Warn("profile transition lost state race", "profile_id", id, "action", action, "from", from)
		}
		return nil, fmt.Errorf("save profile %s: %w", id, err)
	}

	if err := l.recorder.Record(ctx, events.New(events.EntityProfile, id, action, userID, now, reason)); err != nil {
		l.logger.Error("failed to record profile event", "profile_id", id, "action", action, "error", err)
	}
	if l.observer != nil {
		l.observer.RecordProfileTransition(string(action), string(from), string(to))
	}
	l.logger.Info("profile state changed",
		"profile_id", id,
		"from", from,
		"to", to,
		"user_id", userID,
	)
	return next, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
