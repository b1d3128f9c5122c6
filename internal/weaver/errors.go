package weaver

import (
	"errors"
	"fmt"
)

// WeaveError is a fatal failure while rewriting one member. It aborts the
// whole pass; no partial output is produced.
type WeaveError struct {
	// Member is the full name of the method or property being processed.
	Member string

	// Err is the underlying failure.
	Err error
}

func (e *WeaveError) Error() string {
	return fmt.Sprintf("An error occurred processing '%s'. Error: %v", e.Member, e.Err)
}

func (e *WeaveError) Unwrap() error {
	return e.Err
}

// IsWeaveError reports whether err is or wraps a *WeaveError.
func IsWeaveError(err error) bool {
	var we *WeaveError
	return errors.As(err, &we)
}

// ErrStateMachineNotFound is returned when an async method names a state
// machine type that cannot be resolved.
var ErrStateMachineNotFound = errors.New("async state machine not found")

// guardMember runs fn and turns any error or panic into a *WeaveError
// naming member.
func guardMember(member string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &WeaveError{Member: member, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &WeaveError{Member: member, Err: err}
	}
	return nil
}
