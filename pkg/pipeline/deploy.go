package pipeline

import (
	"context"
	"strings"

	"github.com/orbitalci/orbital/pkg/types"
)

// defaultDeploymentCommands is the fixed fallback the deployment step type
// uses when a plan's step supplies no explicit command list (a step's
// "commands" param, one command per line, replaces it), grounded on original_source's
// _get_default_deployment_commands (SPEC_FULL.md §5).
var defaultDeploymentCommands = []string{
	"cd /workspace/src && npm install",
	"cd /workspace/src && npm run build",
	"cd /workspace/src && npm start &",
}

// DeployHandler implements the deployment step type: it runs either the
// step's configured command list or defaultDeploymentCommands inside the
// sandbox.
type DeployHandler struct{}

func (DeployHandler) Run(ctx context.Context, env *StepEnv, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	if env.Sandbox == nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: "no sandbox manager configured"}, nil
	}

	commands := defaultDeploymentCommands
	if raw := params["commands"]; raw != "" {
		commands = strings.Split(raw, "\n")
	}

	var stdoutAll strings.Builder
	for _, cmdLine := range commands {
		cmdLine = strings.TrimSpace(cmdLine)
		if cmdLine == "" {
			continue
		}
		command := []string{"sh", "-c", cmdLine}
		stdout, stderr, exitCode, err := env.Sandbox.Exec(ctx, env.SandboxID, command)
		stdoutAll.WriteString(stdout)
		if err != nil || exitCode != 0 {
			return types.StepResult{
				StepID:  step.ID,
				Outcome: types.StepFailure,
				Error:   "deployment command failed: " + cmdLine + ": " + stderr,
				Payload: map[string]string{"stdout": stdoutAll.String()},
			}, err
		}
	}

	return types.StepResult{
		StepID:  step.ID,
		Outcome: types.StepSuccess,
		Payload: map[string]string{"stdout": stdoutAll.String()},
	}, nil
}
