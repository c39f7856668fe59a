package orchestrator

import "github.com/orbitalci/orbital/pkg/types"

// ExternalEventType is the closed set of triggers a workflow owner
// consumes from its inbox.
type ExternalEventType string

const (
	// TriggerStart kicks a freshly created workflow from IDLE into
	// PLANNING.
	TriggerStart ExternalEventType = "start"
	// TriggerPRWebhook is a PR-open notification from the code host,
	// matched against the workflow's CurrentPRNumber to drive
	// PR_CREATED->VALIDATING.
	TriggerPRWebhook ExternalEventType = "pr_webhook"
	// TriggerPRUpdate records a follow-up PR event (e.g. a new commit
	// pushed) without itself causing a transition.
	TriggerPRUpdate ExternalEventType = "pr_update"
	// TriggerCancel requests an immediate, cooperative shutdown of the
	// workflow regardless of its current state.
	TriggerCancel ExternalEventType = "cancel"
)

// ExternalEvent is one message delivered into a workflow owner's inbox.
type ExternalEvent struct {
	Type           ExternalEventType
	PRNumber       int
	HeadSHA        string
	ValidationPlan []types.StepDefinition
	Action         string
}
