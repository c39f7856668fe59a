package errors

import (
	"errors"
	"fmt"
)

// Type is the closed set of error outcomes orbital's components can
// produce. Callers branch on Type, never on message text.
type Type string

const (
	// TypeInvalidTransition is returned when a workflow transition is
	// attempted that the transition table does not permit.
	TypeInvalidTransition Type = "invalid_transition"
	// TypeCycle is returned when a step DAG contains a dependency cycle.
	TypeCycle Type = "cycle"
	// TypeStepExecution is returned when a pipeline step's handler fails.
	TypeStepExecution Type = "step_execution"
	// TypeTimeout is returned when an operation exceeds its deadline.
	TypeTimeout Type = "timeout"
	// TypeSandboxSetup is returned when sandbox creation fails.
	TypeSandboxSetup Type = "sandbox_setup"
	// TypeSourceClone is returned when cloning the project source into a
	// sandbox fails.
	TypeSourceClone Type = "source_clone"
	// TypeCommand is returned when a command executed in a sandbox exits
	// non-zero or cannot be started.
	TypeCommand Type = "command"
	// TypeAdapterMissing is returned when the service coordinator has no
	// adapter registered for a step's service name.
	TypeAdapterMissing Type = "adapter_missing"
	// TypeSubscriberOverflow is returned (non-fatally, as a counted event)
	// when an event bus subscriber's queue is full.
	TypeSubscriberOverflow Type = "subscriber_overflow"
	// TypeNotFound is returned when a lookup by ID fails.
	TypeNotFound Type = "not_found"
	// TypeStorage is returned when the repository layer fails to read or
	// write state.
	TypeStorage Type = "storage"
	// TypeInternal covers everything else.
	TypeInternal Type = "internal"
)

// Error is orbital's structured error type: a Type for branching, a
// human Message, optional Details, and an optional wrapped Cause.
type Error struct {
	Type    Type
	Message string
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with no cause.
func New(t Type, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Newf creates an *Error with a formatted message.
func Newf(t Type, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error that carries cause as its Cause.
func Wrap(cause error, t Type, message string) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

// Wrapf creates an *Error with a formatted message wrapping cause.
func Wrapf(cause error, t Type, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetails sets Details in place and returns the receiver.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithDetailsf sets a formatted Details in place and returns the receiver.
func (e *Error) WithDetailsf(format string, args ...any) *Error {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// IsType reports whether err is an *Error of the given Type.
func IsType(err error, t Type) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}

// GetType returns err's Type, or TypeInternal if err is not an *Error.
func GetType(err error) Type {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Type
	}
	return TypeInternal
}

// LogFields returns a structured field map suitable for attaching to a
// zerolog event via zerolog.Event.Fields (see pkg/log).
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}
	var ae *Error
	if !errors.As(err, &ae) {
		return fields
	}
	fields["error_type"] = string(ae.Type)
	if ae.Details != "" {
		fields["error_details"] = ae.Details
	}
	if ae.Cause != nil {
		fields["underlying_error"] = ae.Cause.Error()
	}
	return fields
}

// Sentinel constructors for the taxonomy named in the component design.

func InvalidTransition(from, to string) *Error {
	return Newf(TypeInvalidTransition, "cannot transition from %s to %s", from, to).WithDetails(from + "->" + to)
}

func CycleError(involved []string) *Error {
	return New(TypeCycle, "dependency cycle detected").WithDetailsf("steps: %v", involved)
}

func StepExecutionError(stepID string, cause error) *Error {
	return Wrapf(cause, TypeStepExecution, "step %s failed", stepID)
}

func Timeout(op string) *Error {
	return Newf(TypeTimeout, "operation timed out: %s", op)
}

func SandboxSetupError(cause error) *Error {
	return Wrap(cause, TypeSandboxSetup, "sandbox setup failed")
}

func SourceCloneError(repo string, cause error) *Error {
	return Wrapf(cause, TypeSourceClone, "failed to clone %s", repo)
}

func CommandError(command string, exitCode int, cause error) *Error {
	return Wrapf(cause, TypeCommand, "command %q exited %d", command, exitCode)
}

func AdapterMissing(service string) *Error {
	return Newf(TypeAdapterMissing, "no adapter registered for service %q", service)
}

func SubscriberOverflow(subscriber string) *Error {
	return Newf(TypeSubscriberOverflow, "subscriber %q queue full, event dropped", subscriber)
}

func NotFound(kind, id string) *Error {
	return Newf(TypeNotFound, "%s %q not found", kind, id)
}

func StorageError(op string, cause error) *Error {
	return Wrapf(cause, TypeStorage, "storage operation failed: %s", op)
}
