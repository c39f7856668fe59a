/*
Package orchestrator implements the per-project workflow state machine of
spec.md §4.5: IDLE -> PLANNING -> CODING -> PR_CREATED -> VALIDATING ->
(COMPLETED | FAILED | PLANNING again), enforcing iteration caps, retry
caps, and the pluggable requirements-completion predicate.

Each workflow is driven by exactly one owner goroutine (the single-writer
rule of spec.md §4.5 and §5): it consumes an inbox of ExternalEvents
(start, pr_webhook, pr_update, cancel) one at a time, calling out
synchronously to the code-generation agent, the code host, and the
validation pipeline executor between transitions. All state mutation goes
through Apply (state.go), so a workflow's current_state is always
consistent with the tail of its transition history, matching the
invariant in spec.md §3.

This is the Go-native reworking of the teacher's pkg/manager package:
manager.go's single Manager became Orchestrator, and fsm.go's Raft-backed
Apply became state.go's in-process Apply — there is exactly one
process-local writer per workflow here, so no consensus protocol is
needed (see DESIGN.md for the dropped raft dependency).
*/
package orchestrator
