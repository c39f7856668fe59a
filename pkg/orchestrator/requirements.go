package orchestrator

import "github.com/orbitalci/orbital/pkg/types"

// RequirementsPredicate decides whether a VALIDATING episode's outcome
// satisfies a project's completion bar, choosing between
// VALIDATING->COMPLETED and VALIDATING->PLANNING. Pluggable per spec.md
// §4.5; New installs DefaultRequirementsPredicate, and a stricter or
// looser predicate is installed by overwriting Orchestrator.Requirements
// after New returns.
type RequirementsPredicate func(wf *types.Workflow) bool

// completionThreshold is the score a workflow must clear to be considered
// done, per the original system's weighted-signal heuristic.
const completionThreshold = 0.8

// signalWeights assigns the default heuristic's weight to each of the
// four completion signals tracked in WorkflowMetadata.RequirementSignals.
var signalWeights = map[string]float64{
	"pr_merged":             0.25,
	"tests_passing":         0.25,
	"validation_passed":     0.25,
	"deployment_successful": 0.25,
}

// DefaultRequirementsPredicate implements the original system's default
// heuristic: each applicable boolean signal contributes its weight, and a
// score at or above completionThreshold of the applicable total closes
// the loop. pr_merged is excluded from the total when the workflow never
// requested an auto-merge, since nothing will ever set it true in that
// case — otherwise a workflow with AutoMergePR false could never reach
// completion no matter how many of its other signals pass.
func DefaultRequirementsPredicate(wf *types.Workflow) bool {
	var score, total float64
	for signal, weight := range signalWeights {
		if signal == "pr_merged" && !wf.Metadata.AutoMergePR {
			continue
		}
		total += weight
		if wf.Metadata.RequirementSignals[signal] {
			score += weight
		}
	}
	if total == 0 {
		return false
	}
	return score/total >= completionThreshold
}
