package storage

import "github.com/orbitalci/orbital/pkg/types"

// AuditEntry is one append-only record of something orbital did on behalf
// of a workflow, grounded on the original system's audit log model.
type AuditEntry struct {
	ID         string
	WorkflowID string
	Action     string
	Detail     string
	OccurredAt int64 // unix seconds; stored as int64 to stay JSON-stable across time zones
}

// Store is orbital's repository interface. It is implemented by BoltStore
// and by an in-memory fake used in tests that don't need durability.
type Store interface {
	// Workflows
	CreateWorkflow(wf *types.Workflow) error
	GetWorkflow(id string) (*types.Workflow, error)
	ListWorkflows() ([]*types.Workflow, error)
	ListWorkflowsByState(state types.WorkflowState) ([]*types.Workflow, error)
	UpdateWorkflow(wf *types.Workflow) error
	DeleteWorkflow(id string) error

	// Pipeline executions
	CreatePipelineExecution(p *types.PipelineExecution) error
	GetPipelineExecution(id string) (*types.PipelineExecution, error)
	ListPipelineExecutionsByWorkflow(workflowID string) ([]*types.PipelineExecution, error)
	UpdatePipelineExecution(p *types.PipelineExecution) error

	// Sandboxes
	CreateSandbox(sb *types.Sandbox) error
	GetSandbox(id string) (*types.Sandbox, error)
	ListSandboxesByWorkflow(workflowID string) ([]*types.Sandbox, error)
	ListSandboxes() ([]*types.Sandbox, error)
	UpdateSandbox(sb *types.Sandbox) error
	DeleteSandbox(id string) error

	// Audit log
	AppendAuditEntry(entry *AuditEntry) error
	ListAuditEntriesByWorkflow(workflowID string) ([]*AuditEntry, error)

	Close() error
}
