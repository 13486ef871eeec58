package version

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record or version does not exist
var ErrNotFound = errors.New("version: not found")

// ErrInvalidCommit is returned for malformed commit requests
var ErrInvalidCommit = errors.New("version: invalid commit")

// FailureKind classifies rollback failures
type FailureKind string

const (
	InvalidTarget          FailureKind = "INVALID_TARGET"
	ConcurrentModification FailureKind = "CONCURRENT_MODIFICATION"
	StorageError           FailureKind = "STORAGE_ERROR"
)

// RollbackFailure is returned by RollbackRecursive when the cascade cannot complete.
// No record has changed when it is returned.
type RollbackFailure struct {
	Kind FailureKind
	Key  Key
	Err  error
}

func (f *RollbackFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("rollback %s: %s: %v", f.Key, f.Kind, f.Err)
	}
	return fmt.Sprintf("rollback %s: %s", f.Key, f.Kind)
}

func (f *RollbackFailure) Unwrap() error {
	return f.Err
}

// NewRollbackFailure builds a failure of the given kind
func NewRollbackFailure(kind FailureKind, key Key, err error) *RollbackFailure {
	return &RollbackFailure{Kind: kind, Key: key, Err: err}
}

// FailureKindOf classifies any error returned by a store. Errors that are not a
// RollbackFailure are storage errors.
func FailureKindOf(err error) FailureKind {
	var f *RollbackFailure
	if errors.As(err, &f) {
		return f.Kind
	}
	return StorageError
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
