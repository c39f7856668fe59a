/*
Package stepscheduler builds a DAG of StepDefinitions into concurrency-
bounded execution layers, runs each layer with fixed-backoff retries and
optional-step semantics, and propagates each step's result into its
dependents' params under a "<dep_id>_result" key. A Coordinator sits on
top of the Scheduler and dispatches each step to the service-specific
Adapter registered for it, mirroring the teacher's per-resource worker
handlers generalized into a lookup table instead of a fixed switch.
*/
package stepscheduler
