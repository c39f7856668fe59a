package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/eventbus"
	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/metrics"
	"github.com/orbitalci/orbital/pkg/sandbox"
	"github.com/orbitalci/orbital/pkg/stepscheduler"
	"github.com/orbitalci/orbital/pkg/types"
)

// DefaultMaxRetries is the pipeline-wide retry budget described in
// spec.md §4.3 ("per-pipeline max_retries (default 3)").
const DefaultMaxRetries = 3

// DefaultTimeout is the pipeline-wide timeout, after which any in-flight
// step is cancelled and the pipeline is marked FAILED with a timeout
// cause.
const DefaultTimeout = 30 * time.Minute

// DefaultConcurrency bounds how many steps within one DAG layer run at
// once inside a single sandbox. The default of 1 runs a layer's steps one
// after another; sandbox.Manager does not itself serialize execs, so a
// higher value runs that many execs in the sandbox at the same time.
const DefaultConcurrency = 1

// Executor runs an ordered, declarative validation plan in a sandbox,
// publishing progress on the bus and producing a verdict — the Validation
// Pipeline Executor of spec.md §4.3. It is the collaborator
// pkg/stepscheduler.Scheduler is built for.
type Executor struct {
	Sandbox     *sandbox.Manager
	Bus         *eventbus.Bus
	Coordinator *stepscheduler.Coordinator
	Concurrency int
	MaxRetries  int
	Timeout     time.Duration

	handlers registry
}

// NewExecutor returns an Executor wired to defaultRegistry's step-type
// handlers.
func NewExecutor(sb *sandbox.Manager, bus *eventbus.Bus, coord *stepscheduler.Coordinator) *Executor {
	return &Executor{
		Sandbox:     sb,
		Bus:         bus,
		Coordinator: coord,
		Concurrency: DefaultConcurrency,
		MaxRetries:  DefaultMaxRetries,
		Timeout:     DefaultTimeout,
		handlers:    defaultRegistry(),
	}
}

// Run executes steps once against execution, publishing validation.started,
// per-step, and validation.completed events. It does not apply the
// pipeline-level retry policy — see RunWithRetries for that.
func (e *Executor) Run(ctx context.Context, execution *types.PipelineExecution, steps []types.StepDefinition) error {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := metrics.NewTimer()
	execution.Steps = steps
	execution.StartedAt = time.Now()

	logger := log.WithPipelineID(execution.ID)
	e.publish(types.EventValidationStarted, execution.ID, map[string]string{
		"workflow_id": execution.WorkflowID,
		"sandbox_id":  execution.SandboxID,
	})

	env := &StepEnv{
		Sandbox:     e.Sandbox,
		SandboxID:   execution.SandboxID,
		WorkflowID:  execution.WorkflowID,
		PipelineID:  execution.ID,
		Bus:         e.Bus,
		Coordinator: e.Coordinator,
	}
	adapter := &executorAdapter{env: env, handlers: e.handlers, bus: e.Bus}

	builder := stepscheduler.NewBuilder()
	for _, step := range steps {
		builder.AddStep(step)
	}
	scheduler, err := builder.Build()
	if err != nil {
		execution.Outcome = types.PipelineFailure
		execution.CompletedAt = time.Now()
		e.publishCompleted(execution, err)
		return err
	}

	onProgress := func(pct float64, step types.StepDefinition, result types.StepResult) {
		execution.Progress = pct
		e.publish(types.EventPipelineProgress, execution.ID, map[string]string{
			"step_id": step.ID,
			"percent": formatPercent(pct),
		})
	}

	runErr := scheduler.Run(ctx, execution, adapter, e.Concurrency, onProgress)

	// Guaranteed-release discipline: a cleanup step must run even when a
	// non-optional step failed and the scheduler stopped short of later
	// layers.
	e.runOutstandingCleanup(ctx, execution, steps, adapter, onProgress, logger)

	if runErr == nil && ctx.Err() != nil {
		runErr = orbitalerrors.Timeout("validation pipeline " + execution.ID)
		execution.Outcome = types.PipelineFailure
	}

	execution.CompletedAt = time.Now()
	metrics.PipelineDuration.WithLabelValues(string(execution.Outcome)).Observe(timer.Duration().Seconds())
	e.publishCompleted(execution, runErr)

	if runErr != nil {
		logger.Warn().Err(runErr).Msg("validation pipeline failed")
	} else {
		logger.Info().Str("outcome", string(execution.Outcome)).Msg("validation pipeline completed")
	}
	return runErr
}

// RunWithRetries applies the pipeline-level retry policy: a FAILURE
// outcome is retried up to MaxRetries times, reusing execution's id and
// incrementing RetryCount, resetting step results between attempts.
func (e *Executor) RunWithRetries(ctx context.Context, execution *types.PipelineExecution, steps []types.StepDefinition) error {
	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		execution.RetryCount = attempt
		execution.StepResults = make(map[string]types.StepResult, len(steps))
		execution.CurrentStep = ""
		execution.Progress = 0

		lastErr = e.Run(ctx, execution, steps)
		if execution.Outcome != types.PipelineFailure {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// runOutstandingCleanup runs every cleanup-type step that has not yet
// produced a result, regardless of the pipeline's overall outcome.
func (e *Executor) runOutstandingCleanup(ctx context.Context, execution *types.PipelineExecution, steps []types.StepDefinition, adapter *executorAdapter, onProgress stepscheduler.ProgressFunc, logger zerolog.Logger) {
	var pending []types.StepDefinition
	for _, step := range steps {
		if step.Type != types.StepCleanup {
			continue
		}
		if _, done := execution.StepResults[step.ID]; done {
			continue
		}
		pending = append(pending, step)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	for _, step := range pending {
		cleanupCtx := ctx
		if ctx.Err() != nil {
			// Pipeline-wide timeout already fired; give cleanup its own
			// short-lived context so it can still release resources.
			var cancel context.CancelFunc
			cleanupCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
		}
		logger.Debug().Str("step_id", step.ID).Msg("running guaranteed cleanup step")
		result, _ := adapter.Execute(cleanupCtx, step, step.Params)
		result.StepID = step.ID
		if result.StartedAt.IsZero() {
			result.StartedAt = time.Now()
		}
		if result.EndedAt.IsZero() {
			result.EndedAt = time.Now()
		}
		if execution.StepResults == nil {
			execution.StepResults = make(map[string]types.StepResult)
		}
		execution.StepResults[step.ID] = result

		total := len(execution.Steps)
		completed := len(execution.StepResults)
		if total > 0 {
			pct := float64(completed) / float64(total) * 100
			if onProgress != nil {
				onProgress(pct, step, result)
			}
		}
	}
}

func (e *Executor) publishCompleted(execution *types.PipelineExecution, runErr error) {
	payload := map[string]string{
		"workflow_id": execution.WorkflowID,
		"outcome":     string(execution.Outcome),
	}
	if runErr != nil {
		payload["cause"] = string(orbitalerrors.GetType(runErr))
	}
	e.publish(types.EventValidationCompleted, execution.ID, payload)
}

func (e *Executor) publish(eventType types.EventType, pipelineID string, payload map[string]string) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(types.Event{
		Type:          eventType,
		Source:        "pipeline",
		CorrelationID: pipelineID,
		Payload:       payload,
	})
}

func formatPercent(pct float64) string {
	return fmt.Sprintf("%d", int(pct))
}
