package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound indicates no policy run with the id is stored.
	ErrRunNotFound = errors.New("policy run not found")

	// ErrRunExists indicates a policy run with the id is already stored.
	// Runs are immutable once stored.
	ErrRunExists = errors.New("policy run already exists")

	// ErrUnknownDriver indicates the configured driver is not supported.
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// StorageError represents an error from the storage backend.
type StorageError struct {
	Backend   string // "memory", "sqlite3" or "sqlite"
	Operation string // operation that failed
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

func newStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
