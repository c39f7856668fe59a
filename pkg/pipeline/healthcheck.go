package pipeline

import (
	"context"
	"time"

	"github.com/orbitalci/orbital/pkg/health"
	"github.com/orbitalci/orbital/pkg/types"
)

// HealthCheckHandler implements the health_check step type, dispatching to
// an HTTP, TCP, or in-sandbox exec checker (pkg/health) depending on the
// step's check_type param.
type HealthCheckHandler struct{}

func (HealthCheckHandler) Run(ctx context.Context, env *StepEnv, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	checker, err := buildChecker(env, params)
	if err != nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: err.Error()}, err
	}

	status := health.NewStatus()
	config := health.DefaultConfig()

	for attempt := 0; attempt <= config.Retries; attempt++ {
		result := checker.Check(ctx)
		status.Update(result, config)
		if result.Healthy {
			return types.StepResult{
				StepID:  step.ID,
				Outcome: types.StepSuccess,
				Payload: map[string]string{"message": result.Message},
			}, nil
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(config.Interval):
		case <-ctx.Done():
		}
	}

	return types.StepResult{
		StepID:  step.ID,
		Outcome: types.StepFailure,
		Error:   status.LastResult.Message,
	}, nil
}

func buildChecker(env *StepEnv, params map[string]string) (health.Checker, error) {
	switch params["check_type"] {
	case "tcp":
		return health.NewTCPChecker(params["address"]), nil
	case "exec":
		command := []string{"sh", "-c", params["command"]}
		return health.NewExecChecker(command).WithSandbox(env.Sandbox, env.SandboxID), nil
	default:
		return health.NewHTTPChecker(params["url"]), nil
	}
}
