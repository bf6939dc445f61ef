package domain

import "fmt"

// ValidationError reports malformed or out-of-range input. It never follows
// a state mutation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PreconditionError reports a wrong caller, wrong status, or wrong timing
// window. State is left untouched.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return "precondition: " + e.Msg }

func Preconditionf(format string, args ...any) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// DependencyError reports a ledger, audit-log, or rate-oracle failure.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func Dependency(name string, err error) error {
	return &DependencyError{Dependency: name, Err: err}
}

// ConflictError reports an attempted double-settlement on a rental whose
// escrow secret has already been consumed.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Msg }

func Conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}
