// Package log wraps zerolog with the field conventions used across orbital:
// a single global Logger, and WithX helpers that attach the identifiers
// (workflow, step, sandbox) each package logs against.
package log
