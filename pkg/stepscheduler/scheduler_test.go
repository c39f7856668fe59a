package stepscheduler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalci/orbital/pkg/types"
)

// fakeExecer runs a caller-supplied function per step ID, tracking
// concurrent invocations so tests can assert on the concurrency cap.
type fakeExecer struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	fn          func(step types.StepDefinition, params map[string]string) (types.StepResult, error)
}

func (f *fakeExecer) Execute(ctx context.Context, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.fn != nil {
		return f.fn(step, params)
	}
	return types.StepResult{Outcome: types.StepSuccess}, nil
}

func newExecution(id string, steps []types.StepDefinition) *types.PipelineExecution {
	return &types.PipelineExecution{
		ID:          id,
		Steps:       steps,
		StepResults: make(map[string]types.StepResult),
	}
}

func TestLayerOrdersByDependency(t *testing.T) {
	b := NewBuilder()
	b.AddStep(types.StepDefinition{ID: "a"})
	b.AddStep(types.StepDefinition{ID: "b"})
	b.AddStep(types.StepDefinition{ID: "c"})
	b.AddDependency("a", "b")
	b.AddDependency("b", "c")

	sched, err := b.Build()
	require.NoError(t, err)

	layers := sched.Layers()
	require.Len(t, layers, 3)
	assert.Equal(t, "a", layers[0][0].ID)
	assert.Equal(t, "b", layers[1][0].ID)
	assert.Equal(t, "c", layers[2][0].ID)
}

func TestLayerDetectsCycle(t *testing.T) {
	b := NewBuilder()
	b.AddStep(types.StepDefinition{ID: "a"})
	b.AddStep(types.StepDefinition{ID: "b"})
	b.AddDependency("a", "b")
	b.AddDependency("b", "a")

	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestRunRespectsConcurrencyCap(t *testing.T) {
	b := NewBuilder()
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		b.AddStep(types.StepDefinition{ID: id, Timeout: time.Second})
	}
	sched, err := b.Build()
	require.NoError(t, err)

	exec := &fakeExecer{fn: func(step types.StepDefinition, params map[string]string) (types.StepResult, error) {
		time.Sleep(20 * time.Millisecond)
		return types.StepResult{Outcome: types.StepSuccess}, nil
	}}

	execution := newExecution("pipe-1", b.steps)
	err = sched.Run(context.Background(), execution, exec, 2, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, exec.maxInFlight, 2)
	assert.Equal(t, types.PipelineSuccess, execution.Outcome)
}

func TestRunRetriesUntilExhausted(t *testing.T) {
	b := NewBuilder()
	b.AddStep(types.StepDefinition{ID: "flaky", Timeout: time.Second, Retries: 2})
	sched, err := b.Build()
	require.NoError(t, err)

	var attempts int32
	exec := &fakeExecer{fn: func(step types.StepDefinition, params map[string]string) (types.StepResult, error) {
		atomic.AddInt32(&attempts, 1)
		return types.StepResult{Outcome: types.StepFailure, Error: "boom"}, assertableErr{}
	}}

	execution := newExecution("pipe-2", b.steps)
	err = sched.Run(context.Background(), execution, exec, 1, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, types.PipelineFailure, execution.Outcome)
}

type assertableErr struct{}

func (assertableErr) Error() string { return "boom" }

func TestRunDowngradesToWarningWhenOnlyOptionalStepsFail(t *testing.T) {
	b := NewBuilder()
	b.AddStep(types.StepDefinition{ID: "required", Timeout: time.Second})
	b.AddStep(types.StepDefinition{ID: "optional", Timeout: time.Second, Optional: true})
	sched, err := b.Build()
	require.NoError(t, err)

	exec := &fakeExecer{fn: func(step types.StepDefinition, params map[string]string) (types.StepResult, error) {
		if step.ID == "optional" {
			return types.StepResult{Outcome: types.StepFailure, Error: "skipped tool missing"}, assertableErr{}
		}
		return types.StepResult{Outcome: types.StepSuccess}, nil
	}}

	execution := newExecution("pipe-3", b.steps)
	err = sched.Run(context.Background(), execution, exec, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, types.PipelineWarning, execution.Outcome)
}

func TestRunPropagatesDependencyResultIntoParams(t *testing.T) {
	b := NewBuilder()
	b.AddStep(types.StepDefinition{ID: "parent", Timeout: time.Second})
	b.AddStep(types.StepDefinition{ID: "child", Timeout: time.Second})
	b.AddDependency("parent", "child")
	sched, err := b.Build()
	require.NoError(t, err)

	var seenParams map[string]string
	exec := &fakeExecer{fn: func(step types.StepDefinition, params map[string]string) (types.StepResult, error) {
		if step.ID == "parent" {
			return types.StepResult{Outcome: types.StepSuccess, Payload: map[string]string{"url": "http://sandbox:8080"}}, nil
		}
		seenParams = params
		return types.StepResult{Outcome: types.StepSuccess}, nil
	}}

	execution := newExecution("pipe-4", b.steps)
	err = sched.Run(context.Background(), execution, exec, 1, nil)
	require.NoError(t, err)
	require.NotNil(t, seenParams)

	raw, ok := seenParams["parent_result"]
	require.True(t, ok, "expected parent_result key in child params")

	var decoded types.StepResult
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "http://sandbox:8080", decoded.Payload["url"])
}

func TestRunZeroTimeoutStepFailsImmediately(t *testing.T) {
	b := NewBuilder()
	b.AddStep(types.StepDefinition{ID: "instant", Timeout: 0})
	sched, err := b.Build()
	require.NoError(t, err)

	execution := newExecution("pipe-5", b.steps)
	err = sched.Run(context.Background(), execution, execerWithCtxCheck{}, 1, nil)
	require.Error(t, err)
	assert.Equal(t, types.PipelineFailure, execution.Outcome)
}

// execerWithCtxCheck fails a step the moment its context is already
// expired, the behavior a zero Timeout must trigger.
type execerWithCtxCheck struct{}

func (execerWithCtxCheck) Execute(ctx context.Context, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	select {
	case <-ctx.Done():
		return types.StepResult{Outcome: types.StepFailure, Error: "context deadline exceeded"}, ctx.Err()
	default:
		return types.StepResult{Outcome: types.StepSuccess}, nil
	}
}
