package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWorkflowCreateGetUpdate(t *testing.T) {
	store := newTestStore(t)

	wf := &types.Workflow{ID: "wf-1", ProjectID: "proj-1", State: types.WorkflowIdle, CreatedAt: time.Now()}
	require.NoError(t, store.CreateWorkflow(wf))

	got, err := store.GetWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, types.WorkflowIdle, got.State)

	got.State = types.WorkflowPlanning
	require.NoError(t, store.UpdateWorkflow(got))

	reread, err := store.GetWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowPlanning, reread.State)
}

func TestGetWorkflowNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetWorkflow("missing")
	require.Error(t, err)
	assert.True(t, orbitalerrors.IsType(err, orbitalerrors.TypeNotFound))
}

func TestListWorkflowsByState(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateWorkflow(&types.Workflow{ID: "a", State: types.WorkflowValidating}))
	require.NoError(t, store.CreateWorkflow(&types.Workflow{ID: "b", State: types.WorkflowValidating}))
	require.NoError(t, store.CreateWorkflow(&types.Workflow{ID: "c", State: types.WorkflowCompleted}))

	validating, err := store.ListWorkflowsByState(types.WorkflowValidating)
	require.NoError(t, err)
	assert.Len(t, validating, 2)
}

func TestSandboxLifecycleByWorkflow(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateSandbox(&types.Sandbox{ID: "sb-1", WorkflowID: "wf-1", State: types.SandboxReady}))
	require.NoError(t, store.CreateSandbox(&types.Sandbox{ID: "sb-2", WorkflowID: "wf-2", State: types.SandboxReady}))

	byWorkflow, err := store.ListSandboxesByWorkflow("wf-1")
	require.NoError(t, err)
	require.Len(t, byWorkflow, 1)
	assert.Equal(t, "sb-1", byWorkflow[0].ID)

	require.NoError(t, store.DeleteSandbox("sb-1"))
	_, err = store.GetSandbox("sb-1")
	assert.Error(t, err)
}

func TestAuditLogAppendAndList(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendAuditEntry(&AuditEntry{ID: "e1", WorkflowID: "wf-1", Action: "transition"}))
	require.NoError(t, store.AppendAuditEntry(&AuditEntry{ID: "e2", WorkflowID: "wf-2", Action: "transition"}))

	entries, err := store.ListAuditEntriesByWorkflow("wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "transition", entries[0].Action)
}
