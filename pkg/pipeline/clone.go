package pipeline

import (
	"context"

	"github.com/orbitalci/orbital/pkg/types"
)

// CloneHandler implements the source_clone step type through
// sandbox.Manager.CloneSource, which clones the target PR branch into
// /workspace/src inside the sandbox (not into a code/ directory of the
// workspace); the default deployment commands in deploy.go run from there.
type CloneHandler struct{}

func (CloneHandler) Run(ctx context.Context, env *StepEnv, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	if env.Sandbox == nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: "no sandbox manager configured"}, nil
	}

	repoURL := params["repo_url"]
	ref := params["ref"]
	if repoURL == "" {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: "source_clone step missing repo_url param"}, nil
	}

	if err := env.Sandbox.CloneSource(ctx, env.SandboxID, repoURL, ref); err != nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: err.Error()}, err
	}

	return types.StepResult{
		StepID:  step.ID,
		Outcome: types.StepSuccess,
		Payload: map[string]string{"repo_url": repoURL, "ref": ref},
	}, nil
}
