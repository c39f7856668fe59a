package orchestrator

import "time"

// Config bounds an Orchestrator's concurrency and retry policy. cmd/orbital
// fills MaxConcurrentWorkflows, DefaultStepTimeout, ValidationTimeout and
// MaxIterations from the MAX_CONCURRENT_WORKFLOWS,
// DEFAULT_STEP_TIMEOUT_SECONDS, VALIDATION_TIMEOUT_MINUTES and
// MAX_ITERATIONS environment variables; the other fields keep their
// defaults (see New).
type Config struct {
	MaxConcurrentWorkflows int
	DefaultStepTimeout     time.Duration
	ValidationTimeout      time.Duration
	MaxIterations          int
	RetryCap               int
	RetryDelay             time.Duration
	SandboxImage           string
}

// DefaultConfig matches the original system's defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWorkflows: 50,
		DefaultStepTimeout:     5 * time.Minute,
		ValidationTimeout:      30 * time.Minute,
		MaxIterations:          10,
		RetryCap:               3,
		RetryDelay:             60 * time.Second,
		SandboxImage:           "docker.io/library/alpine:latest",
	}
}
