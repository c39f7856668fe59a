package pipeline

import (
	"context"

	"github.com/orbitalci/orbital/pkg/eventbus"
	"github.com/orbitalci/orbital/pkg/sandbox"
	"github.com/orbitalci/orbital/pkg/stepscheduler"
	"github.com/orbitalci/orbital/pkg/types"
)

// StepEnv is the shared context every Handler runs with: the sandbox it
// operates on and the collaborators it may need to publish progress or
// dispatch to an external service.
type StepEnv struct {
	Sandbox     *sandbox.Manager
	SandboxID   string
	WorkflowID  string
	PipelineID  string
	Bus         *eventbus.Bus
	Coordinator *stepscheduler.Coordinator
}

// Handler implements one StepType's behavior.
type Handler interface {
	Run(ctx context.Context, env *StepEnv, step types.StepDefinition, params map[string]string) (types.StepResult, error)
}

// registry maps a step type to the handler that implements it.
type registry map[types.StepType]Handler

// defaultRegistry wires every step type named in spec.md §4.3 to its
// handler, grounded on the teacher's per-resource worker.go handlers.
func defaultRegistry() registry {
	return registry{
		types.StepSnapshotCreation: &SnapshotHandler{},
		types.StepSourceClone:      &CloneHandler{},
		types.StepDeployment:       &DeployHandler{},
		types.StepHealthCheck:      &HealthCheckHandler{},
		types.StepWebEvaluation:    &ServiceHandler{},
		types.StepCodeAnalysis:     &ServiceHandler{},
		types.StepSecurityScan:     &ServiceHandler{},
		types.StepCleanup:          &CleanupHandler{},
	}
}

// executorAdapter satisfies stepscheduler.StepExecutor, dispatching each
// step to its registered Handler with the shared StepEnv.
type executorAdapter struct {
	env      *StepEnv
	handlers registry
	bus      *eventbus.Bus
}

func (a *executorAdapter) Execute(ctx context.Context, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	handler, ok := a.handlers[step.Type]
	if !ok {
		handler = &unknownStepHandler{}
	}

	a.publish(types.EventStepStarted, step, types.StepResult{StepID: step.ID, Outcome: types.StepRunning})
	result, err := handler.Run(ctx, a.env, step, params)
	a.publish(types.EventStepCompleted, step, result)
	return result, err
}

func (a *executorAdapter) publish(eventType types.EventType, step types.StepDefinition, result types.StepResult) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(types.Event{
		Type:          eventType,
		Source:        "pipeline",
		CorrelationID: a.env.PipelineID,
		Payload: map[string]string{
			"step_id":   step.ID,
			"step_type": string(step.Type),
			"outcome":   string(result.Outcome),
		},
	})
}

type unknownStepHandler struct{}

func (unknownStepHandler) Run(ctx context.Context, env *StepEnv, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: "no handler registered for step type " + string(step.Type)}, nil
}
