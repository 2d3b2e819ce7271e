package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrIndustryProfileRequired indicates a request without an industry
	// profile.
	ErrIndustryProfileRequired = errors.New("industry profile is required")
)

// RunError reports a run that could not be completed.
type RunError struct {
	IndustryProfile string
	Message         string
	Cause           error
}

// Error returns the error message.
func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("policy run for %q: %s: %v", e.IndustryProfile, e.Message, e.Cause)
	}
	return fmt.Sprintf("policy run for %q: %s", e.IndustryProfile, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Cause
}
