package pipeline

import (
	"context"

	"github.com/orbitalci/orbital/pkg/types"
)

// SnapshotHandler implements the snapshot_creation step type: it asks the
// sandbox manager to snapshot the sandbox's filesystem state so a later
// step, or a retried pipeline, can fork from a known-good base instead of
// re-provisioning from scratch (see SPEC_FULL.md §5, grounded on
// original_source's snapshot_manager.py).
type SnapshotHandler struct{}

func (SnapshotHandler) Run(ctx context.Context, env *StepEnv, step types.StepDefinition, params map[string]string) (types.StepResult, error) {
	if env.Sandbox == nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: "no sandbox manager configured"}, nil
	}

	snapshotID, err := env.Sandbox.Snapshot(ctx, env.SandboxID)
	if err != nil {
		return types.StepResult{StepID: step.ID, Outcome: types.StepFailure, Error: err.Error()}, err
	}

	return types.StepResult{
		StepID:  step.ID,
		Outcome: types.StepSuccess,
		Payload: map[string]string{"snapshot_id": snapshotID},
	}, nil
}
