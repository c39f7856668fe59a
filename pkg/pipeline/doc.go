/*
Package pipeline runs a validation plan — a list of typed steps drawn from
the closed set snapshot_creation, source_clone, deployment, health_check,
web_evaluation, code_analysis, security_scan, cleanup — against a single
sandbox, publishing progress on the event bus and producing a SUCCESS,
WARNING, or FAILURE verdict.

Every step, cleanup steps included, is handed to pkg/stepscheduler for
dependency-ordered, concurrency-bounded, retried execution; afterward any
cleanup step that the scheduler did not reach (because a required step
failed first) is run regardless of outcome, the guaranteed-release
discipline spec.md §4.3 requires. Each step type is a separate Handler, mirroring the way the
teacher splits worker.go's per-resource setup into dns.go, secrets.go, and
volumes.go instead of one large switch.
*/
package pipeline
