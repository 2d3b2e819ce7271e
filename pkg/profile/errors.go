package profile

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the repository has no profile with the id.
	ErrNotFound = errors.New("profile not found")

	ErrLoadFailed         = errors.New("failed to load profile")
	ErrInvalidType        = errors.New("invalid profile_type")
	ErrMissingParents     = errors.New("missing parent_profiles")
	ErrUnknownParent      = errors.New("unknown parent profile")
	ErrInvalidParentRank  = errors.New("invalid parent rank")
	ErrCircularDependency = errors.New("circular dependency")

	// ErrClauseConflict indicates two definitions of a standard disagree on
	// the clause under the ERROR conflict policy.
	ErrClauseConflict = errors.New("standard clause conflict")

	ErrInvalidTransition = errors.New("invalid profile state transition")

	// ErrStateConflict indicates the stored profile changed state after the
	// caller loaded it.
	ErrStateConflict = errors.New("profile state conflict")

	ErrReasonRequired = errors.New("reason is required")
	ErrNotModifiable     = errors.New("profile cannot be modified in its current state")
	ErrNotUsable         = errors.New("profile cannot be used")
)

// ResolutionError is one configuration problem found while resolving a
// stack. Kind is one of the Err* sentinels above.
type ResolutionError struct {
	ProfileID string
	Kind      error
	Message   string
	Cause     error
}

func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ResolutionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// InheritanceConflictError reports a clause conflict during inheritance.
type InheritanceConflictError struct {
	ProfileID    string
	StandardID   string
	ExistingFrom string
	Existing     string
	Incoming     string
	IncomingFrom string
}

func (e *InheritanceConflictError) Error() string {
	return fmt.Sprintf("profile %s: standard %s clause conflict: %s has %q, %s has %q",
		e.ProfileID, e.StandardID, e.ExistingFrom, e.Existing, e.IncomingFrom, e.Incoming)
}

func (e *InheritanceConflictError) Unwrap() error {
	return ErrClauseConflict
}

// TransitionError reports a lifecycle transition that is not allowed.
type TransitionError struct {
	ProfileID string
	From      State
	Action    string
	Cause     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("profile %s: cannot %s from state %q: %v", e.ProfileID, e.Action, e.From, e.Cause)
}

func (e *TransitionError) Unwrap() error {
	return e.Cause
}

// UsabilityError explains why a profile may not be used for evaluation.
type UsabilityError struct {
	ProfileID string
	State     State
	Message   string
}

func (e *UsabilityError) Error() string {
	return fmt.Sprintf("profile %s: %s", e.ProfileID, e.Message)
}

func (e *UsabilityError) Unwrap() error {
	return ErrNotUsable
}
