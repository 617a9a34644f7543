package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrOutOfRange          = errors.New("progress out of range")
	ErrRegressionRejected  = errors.New("progress regression rejected")
	ErrAlreadyAssigned     = errors.New("user already assigned")
	ErrRoleConflict        = errors.New("role conflict")
	ErrSelfValidation      = errors.New("labeler cannot validate own work")
	ErrDuplicateResponse   = errors.New("duplicate response")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
)

// TransitionError reports a status change outside the successor table.
type TransitionError struct {
	From Status
	To   Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q -> %q", e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

// RoleError reports that the actor lacks the role an action requires.
type RoleError struct {
	ActorID string
	Role    string
}

func (e RoleError) Error() string {
	return fmt.Sprintf("actor %s is not the project %s", e.ActorID, e.Role)
}

func (e RoleError) Unwrap() error { return ErrForbidden }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
