package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps bounds a single Invoke.
const DefaultMaxSteps = 100_000

// QuotaEnforcer tracks the number of instructions executed by one
// invocation, including nested calls, and enforces a maximum.
//
// Each Invoke gets its own QuotaEnforcer. This keeps a looping body from
// hanging a test run.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{
		maxSteps: maxSteps,
		current:  0,
	}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(method string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Method: method,
			Steps:  q.current,
			Limit:  q.maxSteps,
		}
	}
	return nil
}

// Reset resets the step counter to 0.
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when an invocation exceeds the max steps
// quota. It is not a managed exception, so interpreted handlers never see it.
type StepsExceededError struct {
	Method string // Method executing when the limit was hit
	Steps  int    // Number of steps taken
	Limit  int    // Maximum allowed steps
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("%s exceeded max steps quota: %d steps > %d limit",
		e.Method, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
