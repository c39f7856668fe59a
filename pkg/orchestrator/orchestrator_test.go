package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalci/orbital/pkg/eventbus"
	"github.com/orbitalci/orbital/pkg/types"
)

type fakeAgent struct {
	mu          sync.Mutex
	planResult  PlanResult
	planErr     error
	codeResults []CodeResult
	codeErr     error
	callIdx     int
}

func (f *fakeAgent) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	if f.planErr != nil {
		return PlanResult{}, f.planErr
	}
	return f.planResult, nil
}

func (f *fakeAgent) GenerateCode(ctx context.Context, req CodeRequest) (CodeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codeErr != nil {
		return CodeResult{}, f.codeErr
	}
	idx := f.callIdx
	if idx >= len(f.codeResults) {
		idx = len(f.codeResults) - 1
	}
	f.callIdx++
	return f.codeResults[idx], nil
}

type fakeCodeHost struct {
	mu     sync.Mutex
	merged []int
}

func (f *fakeCodeHost) Merge(ctx context.Context, prNumber int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append(f.merged, prNumber)
	return nil
}

type fakeSandbox struct {
	mu        sync.Mutex
	created   []string
	destroyed []string
}

func (f *fakeSandbox) Create(ctx context.Context, workflowID, pipelineID, image string) (*types.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "sandbox-" + pipelineID
	f.created = append(f.created, id)
	return &types.Sandbox{ID: id, WorkflowID: workflowID}, nil
}

func (f *fakeSandbox) Destroy(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, sandboxID)
	return nil
}

type pipelineError string

func (e pipelineError) Error() string { return string(e) }

type fakePipeline struct {
	mu       sync.Mutex
	outcomes []types.PipelineOutcome
	idx      int
	delay    time.Duration
}

func (f *fakePipeline) RunWithRetries(ctx context.Context, execution *types.PipelineExecution, steps []types.StepDefinition) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			execution.Outcome = types.PipelineFailure
			return ctx.Err()
		}
	}

	f.mu.Lock()
	i := f.idx
	f.idx++
	f.mu.Unlock()

	outcome := types.PipelineSuccess
	if i < len(f.outcomes) {
		outcome = f.outcomes[i]
	}
	execution.Outcome = outcome
	execution.Steps = steps
	if outcome == types.PipelineFailure {
		return pipelineError("pipeline failed")
	}
	return nil
}

func testConfig() Config {
	return Config{
		RetryCap:           1,
		RetryDelay:         time.Millisecond,
		MaxIterations:      3,
		ValidationTimeout:  2 * time.Second,
		DefaultStepTimeout: time.Second,
	}
}

func waitForState(t *testing.T, orch *Orchestrator, id string, want types.WorkflowState, timeout time.Duration) types.Workflow {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		wf, err := orch.Workflow(id)
		if err == nil && wf.State == want {
			return *wf
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s did not reach state %s", id, want)
	return types.Workflow{}
}

func waitForPRNumber(t *testing.T, orch *Orchestrator, id string, want int, timeout time.Duration) types.Workflow {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		wf, err := orch.Workflow(id)
		if err == nil && wf.Metadata.CurrentPRNumber == want {
			return *wf
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s did not reach PR number %d", id, want)
	return types.Workflow{}
}

func TestOrchestratorHappyPath(t *testing.T) {
	bus := eventbus.New()
	bus.Start()
	defer bus.Stop()

	agent := &fakeAgent{
		planResult:  PlanResult{Summary: "add a health endpoint", AutoConfirm: true},
		codeResults: []CodeResult{{AgentRunID: "run-1", PRNumber: 42}},
	}
	sandbox := &fakeSandbox{}
	pipe := &fakePipeline{outcomes: []types.PipelineOutcome{types.PipelineSuccess}}
	codeHost := &fakeCodeHost{}

	orch := New(testConfig(), nil, bus, agent, codeHost, pipe, sandbox)

	wf, err := orch.StartWorkflow("proj-1", "add a health endpoint", "", 0, true, true)
	require.NoError(t, err)

	waitForState(t, orch, wf.ID, types.WorkflowPRCreated, time.Second)
	require.NoError(t, orch.Dispatch(wf.ID, ExternalEvent{Type: TriggerPRWebhook, PRNumber: 42}))

	final := waitForState(t, orch, wf.ID, types.WorkflowCompleted, time.Second)
	assert.Equal(t, 1, final.Metadata.CurrentIteration)
	assert.True(t, final.Metadata.RequirementSignals["pr_merged"])

	sandbox.mu.Lock()
	defer sandbox.mu.Unlock()
	require.Len(t, sandbox.created, 1)
	assert.Equal(t, sandbox.created, sandbox.destroyed)
}

func TestOrchestratorRetriesOnValidationFailure(t *testing.T) {
	bus := eventbus.New()
	bus.Start()
	defer bus.Stop()

	agent := &fakeAgent{
		planResult:  PlanResult{Summary: "plan"},
		codeResults: []CodeResult{{AgentRunID: "run-1", PRNumber: 1}, {AgentRunID: "run-2", PRNumber: 2}},
	}
	sandbox := &fakeSandbox{}
	pipe := &fakePipeline{outcomes: []types.PipelineOutcome{types.PipelineFailure, types.PipelineSuccess}}

	orch := New(testConfig(), nil, bus, agent, nil, pipe, sandbox)

	wf, err := orch.StartWorkflow("proj-2", "fix flaky tests", "", 0, true, false)
	require.NoError(t, err)

	waitForPRNumber(t, orch, wf.ID, 1, time.Second)
	require.NoError(t, orch.Dispatch(wf.ID, ExternalEvent{Type: TriggerPRWebhook, PRNumber: 1}))

	waitForPRNumber(t, orch, wf.ID, 2, time.Second)
	require.NoError(t, orch.Dispatch(wf.ID, ExternalEvent{Type: TriggerPRWebhook, PRNumber: 2}))

	final := waitForState(t, orch, wf.ID, types.WorkflowCompleted, time.Second)
	assert.Equal(t, 2, final.Metadata.CurrentIteration)
	assert.Len(t, final.Metadata.AccumulatedContext, 1)
}

func TestOrchestratorFailsAtIterationCap(t *testing.T) {
	bus := eventbus.New()
	bus.Start()
	defer bus.Stop()

	agent := &fakeAgent{
		planResult:  PlanResult{Summary: "plan"},
		codeResults: []CodeResult{{AgentRunID: "run-1", PRNumber: 1}, {AgentRunID: "run-2", PRNumber: 2}},
	}
	sandbox := &fakeSandbox{}
	pipe := &fakePipeline{outcomes: []types.PipelineOutcome{types.PipelineFailure, types.PipelineFailure}}

	cfg := testConfig()
	cfg.MaxIterations = 2
	orch := New(cfg, nil, bus, agent, nil, pipe, sandbox)

	wf, err := orch.StartWorkflow("proj-3", "untenable goal", "", 2, true, false)
	require.NoError(t, err)

	waitForPRNumber(t, orch, wf.ID, 1, time.Second)
	require.NoError(t, orch.Dispatch(wf.ID, ExternalEvent{Type: TriggerPRWebhook, PRNumber: 1}))

	waitForPRNumber(t, orch, wf.ID, 2, time.Second)
	require.NoError(t, orch.Dispatch(wf.ID, ExternalEvent{Type: TriggerPRWebhook, PRNumber: 2}))

	final := waitForState(t, orch, wf.ID, types.WorkflowFailed, time.Second)
	assert.Equal(t, 2, final.Metadata.CurrentIteration)
	assert.Equal(t, "iteration_cap", final.ErrorCause)
}

func TestOrchestratorCancelMidValidation(t *testing.T) {
	bus := eventbus.New()
	bus.Start()
	defer bus.Stop()

	agent := &fakeAgent{
		planResult:  PlanResult{Summary: "plan"},
		codeResults: []CodeResult{{AgentRunID: "run-1", PRNumber: 7}},
	}
	sandbox := &fakeSandbox{}
	pipe := &fakePipeline{delay: 500 * time.Millisecond}

	orch := New(testConfig(), nil, bus, agent, nil, pipe, sandbox)

	wf, err := orch.StartWorkflow("proj-4", "long running change", "", 0, true, false)
	require.NoError(t, err)

	waitForPRNumber(t, orch, wf.ID, 7, time.Second)
	require.NoError(t, orch.Dispatch(wf.ID, ExternalEvent{Type: TriggerPRWebhook, PRNumber: 7}))

	waitForState(t, orch, wf.ID, types.WorkflowValidating, time.Second)
	orch.Cancel(wf.ID)

	final := waitForState(t, orch, wf.ID, types.WorkflowCancelled, time.Second)
	assert.True(t, final.State.Terminal())
	sandbox.mu.Lock()
	defer sandbox.mu.Unlock()
	assert.NotEmpty(t, sandbox.destroyed)
}

func TestApplyRejectsInvalidTransition(t *testing.T) {
	wf := &types.Workflow{State: types.WorkflowIdle}
	err := Apply(wf, types.WorkflowCompleted, "bad", nil)
	assert.Error(t, err)
	assert.Equal(t, types.WorkflowIdle, wf.State)
}

func TestApplyAllowsCancelFromAnyNonTerminalState(t *testing.T) {
	for _, s := range []types.WorkflowState{types.WorkflowIdle, types.WorkflowPlanning, types.WorkflowCoding, types.WorkflowPRCreated, types.WorkflowValidating} {
		wf := &types.Workflow{State: s}
		require.NoError(t, Apply(wf, types.WorkflowCancelled, "cancel", nil))
		assert.Equal(t, types.WorkflowCancelled, wf.State)
	}
}

func TestApplyRejectsTransitionFromTerminalState(t *testing.T) {
	wf := &types.Workflow{State: types.WorkflowCompleted}
	err := Apply(wf, types.WorkflowPlanning, "start", nil)
	assert.Error(t, err)
}

func TestDefaultRequirementsPredicate(t *testing.T) {
	wf := &types.Workflow{Metadata: types.WorkflowMetadata{RequirementSignals: map[string]bool{
		"validation_passed":     true,
		"tests_passing":         true,
		"deployment_successful": true,
	}}}
	assert.True(t, DefaultRequirementsPredicate(wf))

	wf2 := &types.Workflow{Metadata: types.WorkflowMetadata{RequirementSignals: map[string]bool{
		"validation_passed": true,
	}}}
	assert.False(t, DefaultRequirementsPredicate(wf2))
}
