/*
Package types defines the shared data model for the orbital CI orchestrator:
workflows, transitions, step definitions and results, pipeline executions,
sandboxes, and bus events. Every other package operates on these plain
structs; none of them know how to persist or transport themselves.
*/
package types
