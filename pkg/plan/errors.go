package plan

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the plan or plan version does not exist.
	ErrNotFound = errors.New("plan not found")

	// ErrVersionConflict indicates another edit already minted the version
	// this edit was trying to create.
	ErrVersionConflict = errors.New("plan version conflict")

	// ErrStateConflict indicates the stored plan changed state, or was
	// superseded by a newer version, after the caller loaded it.
	ErrStateConflict = errors.New("plan state conflict")

	// ErrPlanLocked indicates the plan is approved and immutable.
	ErrPlanLocked = errors.New("plan is locked")

	// ErrInvalidTransition indicates the action is not allowed from the
	// plan's current state.
	ErrInvalidTransition = errors.New("invalid plan state transition")

	// ErrReasonRequired indicates a reason was required but blank.
	ErrReasonRequired = errors.New("reason is required")

	// ErrNoSteps indicates a plan without steps was submitted.
	ErrNoSteps = errors.New("plan has no steps")

	// ErrLockViolation indicates an edit removes, reorders or alters a
	// locked item without an override.
	ErrLockViolation = errors.New("locked item violation")

	// ErrInvalidEdit indicates the edited content is malformed.
	ErrInvalidEdit = errors.New("invalid plan edit")
)

// TransitionError reports a refused state transition.
type TransitionError struct {
	PlanID string
	From   State
	Action string
	Cause  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plan %s: cannot %s from state %s: %v", e.PlanID, e.Action, e.From, e.Cause)
}

func (e *TransitionError) Unwrap() error {
	return e.Cause
}

// ViolationKind classifies a lock violation.
type ViolationKind string

const (
	ViolationRemoved  ViolationKind = "removed"
	ViolationReorder  ViolationKind = "reordered"
	ViolationModified ViolationKind = "modified"
)

// Violation is one edit that touches a locked item.
type Violation struct {
	Kind       ViolationKind
	ItemKind   string
	ItemID     string
	Constraint string
}

// LockViolationError reports the locked items an edit touched without an
// acceptable override.
type LockViolationError struct {
	PlanID     string
	Violations []Violation
	Cause      error
}

func (e *LockViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s %s %s (%s)", v.ItemKind, v.ItemID, v.Kind, v.Constraint)
	}
	return fmt.Sprintf("plan %s: %v: %s", e.PlanID, e.Cause, strings.Join(parts, "; "))
}

func (e *LockViolationError) Unwrap() error {
	return e.Cause
}
