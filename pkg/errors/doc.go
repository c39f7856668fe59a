// Package errors defines orbital's error taxonomy as a small closed set of
// typed outcomes (InvalidTransition, CycleError, StepExecutionError, and so
// on) rather than ad-hoc wrapped errors. Every package that can fail in a
// way callers need to branch on returns an *Error from this package.
package errors
