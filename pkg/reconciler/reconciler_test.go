package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalci/orbital/pkg/eventbus"
	"github.com/orbitalci/orbital/pkg/orchestrator"
	"github.com/orbitalci/orbital/pkg/storage"
	"github.com/orbitalci/orbital/pkg/types"
)

type noopAgent struct{}

func (noopAgent) Plan(ctx context.Context, req orchestrator.PlanRequest) (orchestrator.PlanResult, error) {
	return orchestrator.PlanResult{}, nil
}

func (noopAgent) GenerateCode(ctx context.Context, req orchestrator.CodeRequest) (orchestrator.CodeResult, error) {
	return orchestrator.CodeResult{}, nil
}

type fakeSandbox struct {
	mu        sync.Mutex
	destroyed []string
}

func (f *fakeSandbox) Create(ctx context.Context, workflowID, pipelineID, image string) (*types.Sandbox, error) {
	return &types.Sandbox{ID: "sb-" + pipelineID, WorkflowID: workflowID}, nil
}

func (f *fakeSandbox) Destroy(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, sandboxID)
	return nil
}

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReconcileStuckWorkflowsToleratesOwnerlessAndLeavesFresh(t *testing.T) {
	store := newTestStore(t)
	bus := eventbus.New()
	bus.Start()
	defer bus.Stop()

	orch := orchestrator.New(orchestrator.Config{}, store, bus, noopAgent{}, nil, nil, &fakeSandbox{})

	stuck := &types.Workflow{
		ID:           "wf-stuck",
		ProjectID:    "proj-1",
		State:        types.WorkflowValidating,
		LastActivity: time.Now().Add(-2 * time.Hour),
		Metadata:     types.WorkflowMetadata{RequirementSignals: map[string]bool{}},
	}
	require.NoError(t, store.CreateWorkflow(stuck))

	fresh := &types.Workflow{
		ID:           "wf-fresh",
		ProjectID:    "proj-1",
		State:        types.WorkflowPlanning,
		LastActivity: time.Now(),
		Metadata:     types.WorkflowMetadata{RequirementSignals: map[string]bool{}},
	}
	require.NoError(t, store.CreateWorkflow(fresh))

	r := New(orch, store, &fakeSandbox{}, time.Hour, time.Minute)
	r.reconcileStuckWorkflows()

	// wf-stuck has no live owner in this orchestrator, so Cancel is a
	// silent no-op; the assertion here is that reconcile does not panic
	// or error scanning a workflow with no owner, which exercises the
	// lookup-miss branch of Orchestrator.Cancel.
	got, err := store.GetWorkflow("wf-fresh")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowPlanning, got.State)
}

func TestReconcileSandboxLeaksDestroysOrphans(t *testing.T) {
	store := newTestStore(t)
	sandbox := &fakeSandbox{}

	wf := &types.Workflow{ID: "wf-done", ProjectID: "proj-1", State: types.WorkflowCompleted}
	require.NoError(t, store.CreateWorkflow(wf))

	leaked := &types.Sandbox{ID: "sb-leaked", WorkflowID: "wf-done", State: types.SandboxReady}
	require.NoError(t, store.CreateSandbox(leaked))

	stillRunning := &types.Workflow{ID: "wf-running", ProjectID: "proj-1", State: types.WorkflowValidating}
	require.NoError(t, store.CreateWorkflow(stillRunning))
	active := &types.Sandbox{ID: "sb-active", WorkflowID: "wf-running", State: types.SandboxReady}
	require.NoError(t, store.CreateSandbox(active))

	r := New(nil, store, sandbox, time.Hour, time.Hour)
	r.reconcileSandboxLeaks()

	sandbox.mu.Lock()
	defer sandbox.mu.Unlock()
	assert.Equal(t, []string{"sb-leaked"}, sandbox.destroyed)

	got, err := store.GetSandbox("sb-leaked")
	require.NoError(t, err)
	assert.Equal(t, types.SandboxDestroyed, got.State)
}
