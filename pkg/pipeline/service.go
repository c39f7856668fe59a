package pipeline

import (
	"context"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/types"
)

// ServiceHandler implements the web_evaluation, code_analysis, and
// security_scan step types, all of which dispatch to an external tool
// through the service coordinator (spec.md §4.4.1) rather than running a
// command directly in the sandbox.
type ServiceHandler struct{}

func (ServiceHandler) Run(ctx context.Context, env *StepEnv, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	if env.Coordinator == nil {
		err := orbitalerrors.AdapterMissing(step.Service)
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: err.Error()}, err
	}
	return env.Coordinator.Execute(ctx, step, params)
}
