package orchestrator

import (
	"time"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/types"
)

// validTransitions is the table of spec.md §4.5's state machine: key is
// the From state, value is the set of To states reachable from it
// directly. CANCELLED is reachable from every non-terminal state and is
// checked separately in Apply rather than repeated in every entry.
var validTransitions = map[types.WorkflowState]map[types.WorkflowState]bool{
	types.WorkflowIdle:       {types.WorkflowPlanning: true},
	types.WorkflowPlanning:   {types.WorkflowCoding: true, types.WorkflowFailed: true},
	types.WorkflowCoding:     {types.WorkflowPRCreated: true, types.WorkflowFailed: true},
	types.WorkflowPRCreated:  {types.WorkflowValidating: true},
	types.WorkflowValidating: {types.WorkflowCompleted: true, types.WorkflowPlanning: true, types.WorkflowFailed: true},
}

// Apply validates and appends a transition to wf's history, mutating its
// current state in place. It is the only place State changes, keeping
// current_state consistent with the tail of History (spec.md §3).
func Apply(wf *types.Workflow, to types.WorkflowState, trigger string, meta map[string]string) error {
	if wf.State.Terminal() {
		return orbitalerrors.InvalidTransition(string(wf.State), string(to))
	}
	if to != types.WorkflowCancelled {
		allowed, ok := validTransitions[wf.State]
		if !ok || !allowed[to] {
			return orbitalerrors.InvalidTransition(string(wf.State), string(to))
		}
	}

	from := wf.State
	wf.History = append(wf.History, types.Transition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Trigger:   trigger,
		Metadata:  meta,
	})
	wf.State = to
	wf.LastActivity = time.Now()
	if wf.StartedAt.IsZero() {
		wf.StartedAt = time.Now()
	}
	if to.Terminal() {
		wf.CompletedAt = time.Now()
	}
	return nil
}
