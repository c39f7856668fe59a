package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/eventbus"
	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/storage"
	"github.com/orbitalci/orbital/pkg/types"
)

// PipelineRunner is the boundary to the validation pipeline executor.
// pkg/pipeline.Executor satisfies it; tests supply a fake.
type PipelineRunner interface {
	RunWithRetries(ctx context.Context, execution *types.PipelineExecution, steps []types.StepDefinition) error
}

// SandboxProvisioner is the boundary to the sandbox manager.
// pkg/sandbox.Manager satisfies it; tests supply a fake.
type SandboxProvisioner interface {
	Create(ctx context.Context, workflowID, pipelineID, image string) (*types.Sandbox, error)
	Destroy(ctx context.Context, sandboxID string) error
}

// Orchestrator owns every active workflow's single-writer reducer
// goroutine (spec.md §4.5). It is the generalization of the teacher's
// Manager: storage, event bus, and external collaborators are wired in
// the same shape, but there is no raft/FSM layer because each workflow
// has exactly one process-local owner.
type Orchestrator struct {
	Store        storage.Store
	Bus          *eventbus.Bus
	Agent        AgentClient
	CodeHost     CodeHostClient
	Pipeline     PipelineRunner
	Sandbox      SandboxProvisioner
	Requirements RequirementsPredicate
	Config       Config

	mu     sync.Mutex
	owners map[string]*workflowOwner
	sem    chan struct{}

	cancelSub *eventbus.Subscription
}

// New wires an Orchestrator. Requirements defaults to
// DefaultRequirementsPredicate; callers needing a different completion
// bar can overwrite the field after construction.
func New(cfg Config, store storage.Store, bus *eventbus.Bus, agent AgentClient, codeHost CodeHostClient, runner PipelineRunner, sb SandboxProvisioner) *Orchestrator {
	if cfg.MaxConcurrentWorkflows <= 0 {
		cfg.MaxConcurrentWorkflows = DefaultConfig().MaxConcurrentWorkflows
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = DefaultConfig().RetryCap
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}

	return &Orchestrator{
		Store:        store,
		Bus:          bus,
		Agent:        agent,
		CodeHost:     codeHost,
		Pipeline:     runner,
		Sandbox:      sb,
		Requirements: DefaultRequirementsPredicate,
		Config:       cfg,
		owners:       make(map[string]*workflowOwner),
		sem:          make(chan struct{}, cfg.MaxConcurrentWorkflows),
	}
}

// Start subscribes the orchestrator to workflow.cancel requests published
// on the bus, so HTTP/webhook handlers can request cancellation without
// holding a reference to the owner map.
func (o *Orchestrator) Start() {
	if o.Bus == nil {
		return
	}
	o.cancelSub = o.Bus.Subscribe("orchestrator-cancel", func(ev types.Event) bool {
		return ev.Type == types.EventWorkflowCancelRequest
	})
	go func() {
		for ev := range o.cancelSub.Events() {
			o.Cancel(ev.CorrelationID)
		}
	}()
}

// Stop unsubscribes from the bus. It does not cancel in-flight workflows.
func (o *Orchestrator) Stop() {
	if o.Bus != nil && o.cancelSub != nil {
		o.Bus.Unsubscribe(o.cancelSub)
	}
}

// StartWorkflow creates a workflow in IDLE, persists it, and spawns its
// owner goroutine with a queued start trigger.
func (o *Orchestrator) StartWorkflow(projectID, goal, planningHint string, maxIterations int, autoConfirm, autoMergePR bool) (*types.Workflow, error) {
	if goal == "" {
		return nil, orbitalerrors.New(orbitalerrors.TypeInvalidTransition, "goal text is required to start a workflow")
	}
	if maxIterations <= 0 {
		maxIterations = o.Config.MaxIterations
	}

	wf := &types.Workflow{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		State:     types.WorkflowIdle,
		Metadata: types.WorkflowMetadata{
			Goal:               goal,
			PlanningHint:       planningHint,
			AutoConfirm:        autoConfirm,
			AutoMergePR:        autoMergePR,
			MaxIterations:      maxIterations,
			RequirementSignals: make(map[string]bool),
		},
		MaxRetries: o.Config.RetryCap,
		CreatedAt:  time.Now(),
	}

	if o.Store != nil {
		if err := o.Store.CreateWorkflow(wf); err != nil {
			return nil, orbitalerrors.StorageError("create workflow", err)
		}
	}

	owner := o.spawn(wf)
	owner.send(ExternalEvent{Type: TriggerStart})

	clone := wf.Clone()
	return &clone, nil
}

// Dispatch delivers an external event (PR webhook, PR update, cancel) to
// the named workflow's owner. Returns NotFound if the workflow has no
// live owner — either it never existed or it already reached a terminal
// state and was reaped.
func (o *Orchestrator) Dispatch(workflowID string, ev ExternalEvent) error {
	o.mu.Lock()
	owner, ok := o.owners[workflowID]
	o.mu.Unlock()
	if !ok {
		return orbitalerrors.NotFound("workflow", workflowID)
	}
	owner.send(ev)
	return nil
}

// Cancel requests immediate, cooperative cancellation of a workflow. It
// cancels the owner's context directly (unblocking any in-flight agent
// or pipeline call within seconds) and also queues a cancel trigger so
// the reducer finalizes the CANCELLED transition once it regains
// control.
func (o *Orchestrator) Cancel(workflowID string) {
	o.mu.Lock()
	owner, ok := o.owners[workflowID]
	o.mu.Unlock()
	if !ok {
		return
	}
	owner.cancelFn()
	owner.send(ExternalEvent{Type: TriggerCancel})
}

// Workflow returns a snapshot of a live or persisted workflow.
func (o *Orchestrator) Workflow(workflowID string) (*types.Workflow, error) {
	o.mu.Lock()
	owner, ok := o.owners[workflowID]
	o.mu.Unlock()
	if ok {
		clone := owner.snapshot()
		return &clone, nil
	}
	if o.Store == nil {
		return nil, orbitalerrors.NotFound("workflow", workflowID)
	}
	return o.Store.GetWorkflow(workflowID)
}

// FindWorkflowByPR resolves the workflow that owns a given project's pull
// request, for inbound webhooks that carry a repository and PR number
// rather than a workflow id. Live owners are checked first, then the
// store for workflows that already reached a terminal state.
func (o *Orchestrator) FindWorkflowByPR(projectID string, prNumber int) (*types.Workflow, error) {
	o.mu.Lock()
	owners := make([]*workflowOwner, 0, len(o.owners))
	for _, ow := range o.owners {
		owners = append(owners, ow)
	}
	o.mu.Unlock()

	for _, ow := range owners {
		snap := ow.snapshot()
		if snap.ProjectID == projectID && snap.Metadata.CurrentPRNumber == prNumber {
			return &snap, nil
		}
	}

	if o.Store != nil {
		all, err := o.Store.ListWorkflows()
		if err == nil {
			for _, wf := range all {
				if wf.ProjectID == projectID && wf.Metadata.CurrentPRNumber == prNumber {
					clone := wf.Clone()
					return &clone, nil
				}
			}
		}
	}
	return nil, orbitalerrors.NotFound("workflow", fmt.Sprintf("project=%s pr=%d", projectID, prNumber))
}

func (o *Orchestrator) spawn(wf *types.Workflow) *workflowOwner {
	ctx, cancel := context.WithCancel(context.Background())
	owner := &workflowOwner{
		wf:       wf,
		inbox:    make(chan ExternalEvent, 32),
		ctx:      ctx,
		cancelFn: cancel,
		orch:     o,
	}
	o.mu.Lock()
	o.owners[wf.ID] = owner
	o.mu.Unlock()

	go owner.run()
	return owner
}

// Forget evicts a terminal workflow's owner from the live map once its
// final state has been read back (by Workflow or a store query), falling
// back to Store for subsequent lookups. Safe to call on a workflow that
// is still active; it is then a no-op and the owner stays in the live map.
func (o *Orchestrator) Forget(workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	owner, ok := o.owners[workflowID]
	if !ok || !owner.snapshot().State.Terminal() {
		return
	}
	delete(o.owners, workflowID)
}

func (o *Orchestrator) persist(wf *types.Workflow) {
	if o.Store == nil {
		return
	}
	if err := o.Store.UpdateWorkflow(wf); err != nil {
		log.WithWorkflowID(wf.ID).Warn().Err(err).Msg("failed to persist workflow state")
	}
}

func (o *Orchestrator) audit(workflowID, action, detail string) {
	if o.Store == nil {
		return
	}
	entry := &storage.AuditEntry{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Action:     action,
		Detail:     detail,
		OccurredAt: time.Now().Unix(),
	}
	if err := o.Store.AppendAuditEntry(entry); err != nil {
		log.WithWorkflowID(workflowID).Warn().Err(err).Msg("failed to append audit entry")
	}
}
