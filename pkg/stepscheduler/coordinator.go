package stepscheduler

import (
	"context"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/types"
)

// AdapterStatus is the outcome of an Adapter's own health check.
type AdapterStatus struct {
	Healthy bool
	Message string
}

// Adapter is a service-specific executor the Coordinator dispatches steps
// to by the step's Service tag — one adapter per external tool (the
// deployer, the web-eval agent, the static analyzer, the scanner).
type Adapter interface {
	Execute(ctx context.Context, action string, params map[string]string) (map[string]string, error)
	HealthCheck(ctx context.Context) AdapterStatus
}

// Coordinator is the registry mapping a step's Service tag to the Adapter
// that knows how to run it, and is itself a StepExecutor so a Scheduler
// can run directly against it.
type Coordinator struct {
	adapters map[string]Adapter
}

// NewCoordinator returns an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{adapters: make(map[string]Adapter)}
}

// Register associates service with adapter. Re-registering a service
// overwrites the previous adapter.
func (c *Coordinator) Register(service string, adapter Adapter) {
	c.adapters[service] = adapter
}

// Execute implements StepExecutor by dispatching to the adapter registered
// for step.Service, returning AdapterMissing if none was registered.
func (c *Coordinator) Execute(ctx context.Context, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	adapter, ok := c.adapters[step.Service]
	if !ok {
		err := orbitalerrors.AdapterMissing(step.Service)
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: err.Error()}, err
	}

	payload, err := adapter.Execute(ctx, step.Name, params)
	if err != nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: err.Error(), Payload: payload}, err
	}
	return types.StepResult{StepID: step.ID, Outcome: types.StepSuccess, Payload: payload}, nil
}

// HealthSnapshot aggregates every registered adapter's HealthCheck into a
// tag -> status map.
func (c *Coordinator) HealthSnapshot(ctx context.Context) map[string]AdapterStatus {
	out := make(map[string]AdapterStatus, len(c.adapters))
	for service, adapter := range c.adapters {
		out[service] = adapter.HealthCheck(ctx)
	}
	return out
}
