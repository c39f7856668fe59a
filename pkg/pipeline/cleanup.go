package pipeline

import (
	"context"

	"github.com/orbitalci/orbital/pkg/types"
)

// CleanupHandler implements the cleanup step type. It destroys the
// pipeline's sandbox — the guaranteed-release step the executor runs even
// when an earlier non-optional step failed (spec.md §4.3).
type CleanupHandler struct{}

func (CleanupHandler) Run(ctx context.Context, env *StepEnv, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	if env.Sandbox == nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepSuccess}, nil
	}

	if err := env.Sandbox.Destroy(ctx, env.SandboxID); err != nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: err.Error()}, err
	}

	return types.StepResult{StepID: step.ID, Outcome: types.StepSuccess}, nil
}
