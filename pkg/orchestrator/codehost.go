package orchestrator

import "context"

// CodeHostClient is the boundary to the code host's pull-request API,
// used for the auto-merge option once a workflow decides to complete.
type CodeHostClient interface {
	Merge(ctx context.Context, prNumber int) error
}
