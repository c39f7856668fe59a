package stepscheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/metrics"
	"github.com/orbitalci/orbital/pkg/types"
)

// StepExecutor runs a single step and reports its outcome. Implemented by
// pkg/pipeline's per-step-type handlers and by the Coordinator below.
type StepExecutor interface {
	Execute(ctx context.Context, step types.StepDefinition, params map[string]string) (types.StepResult, error)
}

// ProgressFunc receives a 0..100 completion percentage and the definition
// and result of the step that just settled, the hook pkg/pipeline uses to publish
// pipeline.progress events on the bus.
type ProgressFunc func(percentage float64, step types.StepDefinition, result types.StepResult)

// Builder assembles a step DAG with a fluent API, the same shape as the
// containerization DAG builder it is grounded on.
type Builder struct {
	steps []types.StepDefinition
	byID  map[string]int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{byID: make(map[string]int)}
}

// AddStep appends a step definition.
func (b *Builder) AddStep(step types.StepDefinition) *Builder {
	b.byID[step.ID] = len(b.steps)
	b.steps = append(b.steps, step)
	return b
}

// AddDependency records that `to` depends on `from` having completed.
func (b *Builder) AddDependency(from, to string) *Builder {
	idx, ok := b.byID[to]
	if !ok {
		return b
	}
	b.steps[idx].DependsOn = append(b.steps[idx].DependsOn, from)
	return b
}

// Build computes the topological layers of the DAG, returning a CycleError
// if any step cannot be reached from an empty dependency set.
func (b *Builder) Build() (*Scheduler, error) {
	layers, err := layer(b.steps)
	if err != nil {
		return nil, err
	}
	return &Scheduler{steps: b.steps, layers: layers}, nil
}

// layer groups steps into waves where every step in wave N depends only on
// steps in waves < N. Steps within a wave have no dependency on one
// another and so may run concurrently.
func layer(steps []types.StepDefinition) ([][]types.StepDefinition, error) {
	remaining := make(map[string]types.StepDefinition, len(steps))
	for _, s := range steps {
		remaining[s.ID] = s
	}

	done := make(map[string]bool, len(steps))
	var layers [][]types.StepDefinition

	for len(remaining) > 0 {
		var wave []types.StepDefinition
		for id, step := range remaining {
			ready := true
			for _, dep := range step.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, step)
				_ = id
			}
		}
		if len(wave) == 0 {
			var stuck []string
			for id := range remaining {
				stuck = append(stuck, id)
			}
			return nil, orbitalerrors.CycleError(stuck)
		}
		for _, step := range wave {
			delete(remaining, step.ID)
			done[step.ID] = true
		}
		layers = append(layers, wave)
	}
	return layers, nil
}

// Scheduler runs a pre-built DAG of steps.
type Scheduler struct {
	steps  []types.StepDefinition
	layers [][]types.StepDefinition
}

// Layers exposes the computed execution waves, mainly for tests.
func (s *Scheduler) Layers() [][]types.StepDefinition {
	return s.layers
}

const defaultRetryDelay = 2 * time.Second

// Run executes every layer in order, up to concurrency steps within a
// layer at once, retrying a failed step up to its Retries count with a
// fixed delay between attempts. A required step's exhausted failure stops
// the run; an optional step's exhausted failure is recorded and execution
// continues.
func (s *Scheduler) Run(ctx context.Context, execution *types.PipelineExecution, execer StepExecutor, concurrency int, onProgress ProgressFunc) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	logger := log.WithPipelineID(execution.ID)

	if execution.StepResults == nil {
		execution.StepResults = make(map[string]types.StepResult)
	}

	total := len(s.steps)
	completed := 0

	for _, wave := range s.layers {
		sem := make(chan struct{}, concurrency)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var fatal error

		for _, step := range wave {
			step := step
			if fatalSoFar(&mu, &fatal) {
				break
			}

			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				params := mergeDependencyResults(step, execution)
				result := s.runWithRetry(ctx, step, params, execer, logger)

				mu.Lock()
				execution.StepResults[step.ID] = result
				completed++
				pct := float64(completed) / float64(total) * 100
				mu.Unlock()

				if onProgress != nil {
					onProgress(pct, step, result)
				}

				if result.Outcome == types.StepFailure && !step.Optional {
					mu.Lock()
					if fatal == nil {
						fatal = orbitalerrors.StepExecutionError(step.ID, nil).WithDetails(result.Error)
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if fatal != nil {
			execution.Outcome = types.PipelineFailure
			return fatal
		}
	}

	switch {
	case execution.AllOptionalFailures():
		execution.Outcome = types.PipelineWarning
	default:
		execution.Outcome = types.PipelineSuccess
	}
	return nil
}

func fatalSoFar(mu *sync.Mutex, fatal *error) bool {
	mu.Lock()
	defer mu.Unlock()
	return *fatal != nil
}

func (s *Scheduler) runWithRetry(ctx context.Context, step types.StepDefinition, params map[string]string, execer StepExecutor, logger zerolog.Logger) types.StepResult {
	attempts := step.Retries + 1
	var last types.StepResult

	for attempt := 1; attempt <= attempts; attempt++ {
		// A zero Timeout is not "unbounded" — context.WithTimeout with a
		// zero duration produces an already-expired deadline, so the step
		// fails immediately, matching an explicit zero-budget step.
		stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)

		start := time.Now()
		result, err := execer.Execute(stepCtx, step, params)
		cancel()
		result.StepID = step.ID
		result.Attempt = attempt
		result.StartedAt = start
		result.EndedAt = time.Now()

		metrics.StepDuration.WithLabelValues(string(step.Type), string(result.Outcome)).Observe(result.Elapsed().Seconds())

		if err == nil && result.Outcome != types.StepFailure {
			return result
		}
		if err != nil && result.Error == "" {
			result.Error = err.Error()
		}
		if orbitalerrors.IsType(err, orbitalerrors.TypeTimeout) {
			result.Outcome = types.StepFailure
		}
		last = result
		if attempt < attempts {
			logger.Warn().Str("step_id", step.ID).Int("attempt", attempt).Str("error", result.Error).Msg("step failed, retrying")
			metrics.StepRetriesTotal.WithLabelValues(string(step.Type)).Inc()
			select {
			case <-time.After(defaultRetryDelay):
			case <-ctx.Done():
				last.Outcome = types.StepFailure
				return last
			}
		}
	}
	if last.Outcome == "" {
		last.Outcome = types.StepFailure
	}
	return last
}

// mergeDependencyResults copies step.Params and adds a "<dep>_result" JSON
// blob for every already-completed dependency that succeeded, the
// mechanism downstream steps use to read an upstream step's payload.
// A failed dependency's key stays absent: dependents see it as if the
// dependency never ran.
func mergeDependencyResults(step types.StepDefinition, execution *types.PipelineExecution) map[string]string {
	params := make(map[string]string, len(step.Params)+len(step.DependsOn))
	for k, v := range step.Params {
		params[k] = v
	}
	for _, dep := range step.DependsOn {
		result, ok := execution.StepResults[dep]
		if !ok || result.Outcome != types.StepSuccess {
			continue
		}
		encoded, err := json.Marshal(result)
		if err != nil {
			continue
		}
		params[dep+"_result"] = string(encoded)
	}
	return params
}
