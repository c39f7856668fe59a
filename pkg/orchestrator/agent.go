package orchestrator

import "context"

// PlanRequest is handed to the code-generation agent at PLANNING entry.
// AccumulatedContext and ErrorContext carry forward what previous
// iterations learned, per WorkflowMetadata's capped history.
type PlanRequest struct {
	WorkflowID         string
	Goal               string
	PlanningHint       string
	Iteration          int
	AccumulatedContext []string
	ErrorContext       []string
}

// PlanResult is the agent's response to a PlanRequest.
type PlanResult struct {
	Summary     string
	AutoConfirm bool
}

// CodeRequest is handed to the agent once a plan is confirmed, at CODING
// entry.
type CodeRequest struct {
	WorkflowID string
	Plan       PlanResult
}

// CodeResult is the agent's response once it has produced and opened a
// pull request, the event the transition table calls "agent reports PR
// with number".
type CodeResult struct {
	AgentRunID string
	PRNumber   int
}

// AgentClient is the boundary to the external code-generation agent
// service (spec.md §1: "treated as a remote service behind a narrow
// interface").
type AgentClient interface {
	Plan(ctx context.Context, req PlanRequest) (PlanResult, error)
	GenerateCode(ctx context.Context, req CodeRequest) (CodeResult, error)
}
