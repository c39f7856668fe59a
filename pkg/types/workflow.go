package types

import "time"

// WorkflowState is one node of the per-project CI loop state machine.
type WorkflowState string

const (
	WorkflowIdle       WorkflowState = "IDLE"
	WorkflowPlanning   WorkflowState = "PLANNING"
	WorkflowCoding     WorkflowState = "CODING"
	WorkflowPRCreated  WorkflowState = "PR_CREATED"
	WorkflowValidating WorkflowState = "VALIDATING"
	WorkflowCompleted  WorkflowState = "COMPLETED"
	WorkflowFailed     WorkflowState = "FAILED"
	WorkflowCancelled  WorkflowState = "CANCELLED"
)

// Terminal reports whether a workflow in this state will never transition again.
func (s WorkflowState) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	default:
		return false
	}
}

// Transition records one edge taken in a workflow's history. Immutable once
// appended.
type Transition struct {
	From      WorkflowState
	To        WorkflowState
	Timestamp time.Time
	Trigger   string
	Metadata  map[string]string
}

// WorkflowMetadata is the mutable payload a workflow carries across its
// lifetime: goal text, iteration bookkeeping, PR/agent-run history, and the
// context accumulated across PLANNING re-entries.
type WorkflowMetadata struct {
	Goal          string
	PlanningHint  string
	AutoConfirm   bool
	AutoMergePR   bool

	CurrentIteration int
	MaxIterations    int

	CurrentAgentRunID string
	AgentRunHistory   []string

	CurrentPRNumber int
	PRHistory       []int

	// AccumulatedContext is append-only within a single PLANNING->VALIDATING
	// run and capped across the workflow's lifetime (see
	// WorkflowMetadata.AppendContext).
	AccumulatedContext []string
	ErrorContext       []string

	ValidationAttempts int

	// RequirementSignals backs the default requirements-completion
	// predicate: PR merged, tests passing, validation passed, deployment
	// successful.
	RequirementSignals map[string]bool
}

const (
	maxAccumulatedContext = 10
	maxErrorContext       = 5
)

// AppendContext appends a summary, trimming to the configured cap from the
// front (oldest dropped first).
func (m *WorkflowMetadata) AppendContext(summary string) {
	m.AccumulatedContext = append(m.AccumulatedContext, summary)
	if over := len(m.AccumulatedContext) - maxAccumulatedContext; over > 0 {
		m.AccumulatedContext = m.AccumulatedContext[over:]
	}
}

// AppendError appends an error-context entry under the same capping rule.
func (m *WorkflowMetadata) AppendError(msg string) {
	m.ErrorContext = append(m.ErrorContext, msg)
	if over := len(m.ErrorContext) - maxErrorContext; over > 0 {
		m.ErrorContext = m.ErrorContext[over:]
	}
}

// Clone returns a deep-enough copy for snapshot reads outside the single
// writer (the orchestrator reducer).
func (m WorkflowMetadata) Clone() WorkflowMetadata {
	out := m
	out.AgentRunHistory = append([]string(nil), m.AgentRunHistory...)
	out.PRHistory = append([]int(nil), m.PRHistory...)
	out.AccumulatedContext = append([]string(nil), m.AccumulatedContext...)
	out.ErrorContext = append([]string(nil), m.ErrorContext...)
	out.RequirementSignals = make(map[string]bool, len(m.RequirementSignals))
	for k, v := range m.RequirementSignals {
		out.RequirementSignals[k] = v
	}
	return out
}

// Workflow is the CI loop for one project.
type Workflow struct {
	ID        string
	ProjectID string
	State     WorkflowState
	Metadata  WorkflowMetadata

	CreatedAt    time.Time
	StartedAt    time.Time
	LastActivity time.Time
	CompletedAt  time.Time

	RetryCount int
	MaxRetries int

	History []Transition

	FinalResult map[string]string
	ErrorCause  string
}

// Clone returns a deep-enough copy safe for lock-free reads.
func (w Workflow) Clone() Workflow {
	out := w
	out.Metadata = w.Metadata.Clone()
	out.History = append([]Transition(nil), w.History...)
	out.FinalResult = make(map[string]string, len(w.FinalResult))
	for k, v := range w.FinalResult {
		out.FinalResult[k] = v
	}
	return out
}
