package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitalci/orbital/pkg/pipeline"
	"github.com/orbitalci/orbital/pkg/types"
)

// workflowOwner is the single writer for one workflow's state, per
// spec.md §4.5 and §5. Its run loop consumes ExternalEvents one at a
// time; every blocking call it makes (agent, code host, pipeline) is
// threaded with ctx so a concurrent Cancel takes effect without waiting
// for the loop to return to its select statement.
type workflowOwner struct {
	mu sync.RWMutex
	wf *types.Workflow

	inbox    chan ExternalEvent
	ctx      context.Context
	cancelFn context.CancelFunc
	orch     *Orchestrator

	currentSandboxID string
	lastPlan         PlanResult
	lastCode         CodeResult
}

func (o *workflowOwner) send(ev ExternalEvent) {
	select {
	case o.inbox <- ev:
	case <-o.ctx.Done():
	}
}

func (o *workflowOwner) snapshot() types.Workflow {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.wf.Clone()
}

func (o *workflowOwner) run() {
	select {
	case o.orch.sem <- struct{}{}:
	case <-o.ctx.Done():
		return
	}
	defer func() { <-o.orch.sem }()

	for {
		select {
		case <-o.ctx.Done():
			o.finalizeCancel()
			return
		case ev := <-o.inbox:
			o.handle(ev)
		}
		if o.wf.State.Terminal() {
			o.orch.persist(o.wf)
			return
		}
	}
}

func (o *workflowOwner) handle(ev ExternalEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Type {
	case TriggerCancel:
		o.applyCancel()
	case TriggerStart:
		if o.wf.State != types.WorkflowIdle {
			return
		}
		if err := Apply(o.wf, types.WorkflowPlanning, "start", nil); err != nil {
			return
		}
		o.wf.Metadata.CurrentIteration = 1
		o.publish(types.EventWorkflowStarted, nil)
		o.publishTransition()
		o.orch.persist(o.wf)
		o.planThroughPR()
	case TriggerPRWebhook:
		if o.wf.State != types.WorkflowPRCreated {
			return
		}
		if ev.PRNumber != 0 && ev.PRNumber != o.wf.Metadata.CurrentPRNumber {
			return
		}
		o.runValidation(ev)
	case TriggerPRUpdate:
		o.wf.Metadata.PRHistory = append(o.wf.Metadata.PRHistory, ev.PRNumber)
		o.publish(types.EventPRUpdated, map[string]string{"pr_number": fmt.Sprint(ev.PRNumber)})
	}
}

// planThroughPR drives a workflow already sitting in PLANNING through
// CODING to PR_CREATED, retrying each agent call up to the configured
// retry cap before giving up into FAILED. It leaves the workflow parked
// in PR_CREATED, awaiting the matching pr_webhook trigger, or in FAILED.
func (o *workflowOwner) planThroughPR() {
	cfg := o.orch.Config

	planReq := PlanRequest{
		WorkflowID:         o.wf.ID,
		Goal:               o.wf.Metadata.Goal,
		PlanningHint:       o.wf.Metadata.PlanningHint,
		Iteration:          o.wf.Metadata.CurrentIteration,
		AccumulatedContext: append([]string(nil), o.wf.Metadata.AccumulatedContext...),
		ErrorContext:       append([]string(nil), o.wf.Metadata.ErrorContext...),
	}
	if ok, _ := o.retryAgent(cfg, func() error {
		result, err := o.orch.Agent.Plan(o.ctx, planReq)
		if err == nil {
			o.lastPlan = result
		}
		return err
	}); !ok {
		o.failFrom(types.WorkflowPlanning, "agent_plan_failed")
		return
	}
	o.publish(types.EventPlanCreated, map[string]string{"summary": o.lastPlan.Summary})

	if err := Apply(o.wf, types.WorkflowCoding, "plan_confirmed", nil); err != nil {
		return
	}
	o.publishTransition()
	o.orch.persist(o.wf)

	codeReq := CodeRequest{WorkflowID: o.wf.ID, Plan: o.lastPlan}
	if ok, _ := o.retryAgent(cfg, func() error {
		result, err := o.orch.Agent.GenerateCode(o.ctx, codeReq)
		if err == nil {
			o.lastCode = result
		}
		return err
	}); !ok {
		o.failFrom(types.WorkflowCoding, "agent_code_failed")
		return
	}

	o.wf.Metadata.CurrentAgentRunID = o.lastCode.AgentRunID
	o.wf.Metadata.AgentRunHistory = append(o.wf.Metadata.AgentRunHistory, o.lastCode.AgentRunID)
	o.wf.Metadata.CurrentPRNumber = o.lastCode.PRNumber
	o.wf.Metadata.PRHistory = append(o.wf.Metadata.PRHistory, o.lastCode.PRNumber)

	if err := Apply(o.wf, types.WorkflowPRCreated, "agent_reported_pr", map[string]string{"pr_number": fmt.Sprint(o.lastCode.PRNumber)}); err != nil {
		return
	}
	o.publish(types.EventPRCreated, map[string]string{"pr_number": fmt.Sprint(o.lastCode.PRNumber)})
	o.publishTransition()
	o.orch.persist(o.wf)
}

// retryAgent runs fn up to cfg.RetryCap+1 times with cfg.RetryDelay
// between attempts, aborting early if the owner's context is cancelled.
// Returns false once the budget is exhausted.
func (o *workflowOwner) retryAgent(cfg Config, fn func() error) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.RetryCap; attempt++ {
		err := fn()
		if err == nil {
			return true, nil
		}
		lastErr = err
		if o.ctx.Err() != nil {
			return false, lastErr
		}
		if attempt == cfg.RetryCap {
			break
		}
		select {
		case <-time.After(cfg.RetryDelay):
		case <-o.ctx.Done():
			return false, lastErr
		}
	}
	return false, lastErr
}

func (o *workflowOwner) failFrom(from types.WorkflowState, cause string) {
	if o.wf.State != from {
		return
	}
	_ = Apply(o.wf, types.WorkflowFailed, cause, nil)
	o.wf.ErrorCause = cause
	o.wf.Metadata.AppendError(cause)
	o.publish(types.EventWorkflowFailed, map[string]string{"cause": cause})
	o.orch.persist(o.wf)
	o.orch.audit(o.wf.ID, "workflow_failed", cause)
}

// runValidation drives PR_CREATED -> VALIDATING, runs the pipeline, and
// decides the next transition: COMPLETED, back to PLANNING (iteration
// cap not yet reached), or FAILED.
func (o *workflowOwner) runValidation(ev ExternalEvent) {
	if err := Apply(o.wf, types.WorkflowValidating, "pr_webhook", map[string]string{"pr_number": fmt.Sprint(ev.PRNumber)}); err != nil {
		return
	}
	o.publishTransition()
	o.orch.persist(o.wf)

	sb, err := o.orch.Sandbox.Create(o.ctx, o.wf.ID, uuid.NewString(), o.orch.Config.SandboxImage)
	if err != nil {
		o.wf.Metadata.AppendError(err.Error())
		o.failFrom(types.WorkflowValidating, "sandbox_create_failed")
		return
	}
	o.currentSandboxID = sb.ID
	defer func() {
		_ = o.orch.Sandbox.Destroy(context.Background(), sb.ID)
		o.currentSandboxID = ""
	}()

	steps := ev.ValidationPlan
	if len(steps) == 0 {
		steps = pipeline.DefaultPlan().StepDefinitions(o.orch.Config.DefaultStepTimeout)
	}

	execution := &types.PipelineExecution{
		ID:         uuid.NewString(),
		WorkflowID: o.wf.ID,
		SandboxID:  sb.ID,
	}

	ctx, cancel := context.WithTimeout(o.ctx, o.orch.Config.ValidationTimeout)
	runErr := o.orch.Pipeline.RunWithRetries(ctx, execution, steps)
	cancel()

	o.wf.Metadata.ValidationAttempts++
	o.evaluateSignals(execution)

	if runErr == nil && o.orch.Requirements(o.wf) {
		_ = Apply(o.wf, types.WorkflowCompleted, "validation_success", nil)
		o.wf.FinalResult = map[string]string{"pipeline_outcome": string(execution.Outcome)}
		o.publish(types.EventWorkflowCompleted, map[string]string{"outcome": string(execution.Outcome)})
		o.orch.persist(o.wf)
		o.orch.audit(o.wf.ID, "workflow_completed", string(execution.Outcome))
		return
	}

	cause := "requirements_not_met"
	if runErr != nil {
		cause = "validation_failed"
		o.wf.Metadata.AppendError(runErr.Error())
	}
	o.wf.Metadata.AppendContext(fmt.Sprintf("iteration %d: %s", o.wf.Metadata.CurrentIteration, cause))

	if o.wf.Metadata.CurrentIteration < o.wf.Metadata.MaxIterations {
		if err := Apply(o.wf, types.WorkflowPlanning, "validation_failure", map[string]string{"cause": cause}); err != nil {
			return
		}
		o.wf.Metadata.CurrentIteration++
		o.wf.Metadata.ValidationAttempts = 0
		o.publishTransition()
		o.orch.persist(o.wf)
		o.planThroughPR()
		return
	}

	_ = Apply(o.wf, types.WorkflowFailed, "iteration_cap", map[string]string{"cause": cause})
	o.wf.ErrorCause = "iteration_cap"
	o.publish(types.EventWorkflowFailed, map[string]string{"cause": "iteration_cap"})
	o.orch.persist(o.wf)
	o.orch.audit(o.wf.ID, "workflow_failed", "iteration_cap")
}

// stepSucceeded reports whether at least one step of the given type
// reached SUCCESS in execution.
func stepSucceeded(execution *types.PipelineExecution, stepType types.StepType) bool {
	for _, s := range execution.Steps {
		if s.Type != stepType {
			continue
		}
		if r, ok := execution.StepResults[s.ID]; ok && r.Outcome == types.StepSuccess {
			return true
		}
	}
	return false
}

func (o *workflowOwner) evaluateSignals(execution *types.PipelineExecution) {
	success := execution.Outcome != types.PipelineFailure
	o.wf.Metadata.RequirementSignals["validation_passed"] = success
	o.wf.Metadata.RequirementSignals["tests_passing"] = success
	o.wf.Metadata.RequirementSignals["deployment_successful"] = stepSucceeded(execution, types.StepDeployment) || success

	if success && o.wf.Metadata.AutoMergePR && o.orch.CodeHost != nil {
		if err := o.orch.CodeHost.Merge(o.ctx, o.wf.Metadata.CurrentPRNumber); err == nil {
			o.wf.Metadata.RequirementSignals["pr_merged"] = true
		}
	}
}

func (o *workflowOwner) applyCancel() {
	if o.wf.State.Terminal() {
		return
	}
	_ = Apply(o.wf, types.WorkflowCancelled, "cancel", nil)
	if o.orch.Sandbox != nil && o.currentSandboxID != "" {
		_ = o.orch.Sandbox.Destroy(context.Background(), o.currentSandboxID)
	}
	o.publish(types.EventWorkflowCancelled, nil)
	o.orch.persist(o.wf)
	o.orch.audit(o.wf.ID, "workflow_cancelled", "")
}

// finalizeCancel is invoked from run()'s select when ctx.Done() fires
// without a TriggerCancel having already finalized the transition (the
// cancel landed mid-blocking-call, so the loop only notices on its next
// pass through the select).
func (o *workflowOwner) finalizeCancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applyCancel()
}

func (o *workflowOwner) publish(eventType types.EventType, payload map[string]string) {
	if o.orch.Bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]string{}
	}
	payload["workflow_id"] = o.wf.ID
	payload["project_id"] = o.wf.ProjectID
	o.orch.Bus.Publish(types.Event{
		Type:          eventType,
		Source:        "orchestrator",
		CorrelationID: o.wf.ID,
		Payload:       payload,
	})
}

func (o *workflowOwner) publishTransition() {
	if len(o.wf.History) == 0 {
		return
	}
	last := o.wf.History[len(o.wf.History)-1]
	o.publish(types.EventWorkflowTransitioned, map[string]string{
		"from":    string(last.From),
		"to":      string(last.To),
		"trigger": last.Trigger,
	})
}
