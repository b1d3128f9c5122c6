package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/nullguard/internal/ir"
)

// RuntimeError represents a fault in the interpreter itself, as opposed to
// an exception thrown by interpreted code.
//
// Runtime errors include:
//   - Unresolved member: a call or field names something the universe lacks
//   - Stack underflow: an instruction pops from an empty stack
//   - Bad program: a branch to an instruction outside the body
//   - Quota exceeded: an invocation exceeds the step limit
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Method is the full name of the executing method.
	Method string

	// Offset is the instruction index within Method, or -1.
	Offset int
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnresolved indicates a method, type or field could not be found.
	ErrCodeUnresolved RuntimeErrorCode = "UNRESOLVED"

	// ErrCodeStackUnderflow indicates a pop from an empty evaluation stack.
	ErrCodeStackUnderflow RuntimeErrorCode = "STACK_UNDERFLOW"

	// ErrCodeBadProgram indicates an operand the interpreter cannot execute.
	ErrCodeBadProgram RuntimeErrorCode = "BAD_PROGRAM"

	// ErrCodeQuotaExceeded indicates the invocation exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Method != "" && e.Offset >= 0 {
		return fmt.Sprintf("%s: %s (at %s in %s)", e.Code, e.Message, ir.Label(e.Offset), e.Method)
	}
	if e.Method != "" {
		return fmt.Sprintf("%s: %s (in %s)", e.Code, e.Message, e.Method)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newRuntimeError(code RuntimeErrorCode, method string, offset int, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Method:  method,
		Offset:  offset,
	}
}

// IsRuntimeError returns true if err is or wraps a RuntimeError with code.
func IsRuntimeError(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	if IsRuntimeError(err, ErrCodeQuotaExceeded) {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// Well-known exception type names.
const (
	ExceptionType               = "System.Exception"
	NullReferenceExceptionType  = "System.NullReferenceException"
	defaultArgumentNullMessage  = "Value cannot be null."
	defaultNullReferenceMessage = "Object reference not set to an instance of an object."
)

// ManagedException is an exception raised by interpreted code. It is both
// the Go error that unwinds frames and the value a catch handler receives.
type ManagedException struct {
	// Type is the exception's full type name.
	Type string

	// Message is the exception message.
	Message string

	// ParamName is set for ArgumentNullException.
	ParamName string
}

// Error implements the error interface.
func (e *ManagedException) Error() string {
	if e.ParamName != "" {
		return fmt.Sprintf("%s: %s (Parameter '%s')", e.Type, e.Message, e.ParamName)
	}
	return e.Type + ": " + e.Message
}

// AsManagedException unwraps err to a ManagedException.
func AsManagedException(err error) (*ManagedException, bool) {
	var me *ManagedException
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// IsManagedException returns true if err is a managed exception of type typ.
func IsManagedException(err error, typ string) bool {
	me, ok := AsManagedException(err)
	return ok && me.Type == typ
}

// catches reports whether a handler for catchType receives e. Only exact
// type names and System.Exception are matched; the interpreter has no type
// hierarchy for framework exceptions.
func (e *ManagedException) catches(catchType string) bool {
	return catchType == "" || catchType == ExceptionType || catchType == e.Type
}

func nullReference() *ManagedException {
	return &ManagedException{Type: NullReferenceExceptionType, Message: defaultNullReferenceMessage}
}

// newException builds a framework exception from constructor arguments.
func newException(typ string, args []Value) *ManagedException {
	e := &ManagedException{Type: typ}
	str := func(i int) string {
		if i < len(args) {
			s, _ := args[i].(string)
			return s
		}
		return ""
	}
	switch typ {
	case ir.ArgumentNullExceptionType:
		e.ParamName = str(0)
		e.Message = defaultArgumentNullMessage
		if len(args) > 1 {
			e.Message = str(1)
		}
	default:
		e.Message = str(0)
	}
	return e
}
