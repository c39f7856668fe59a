/*
Package sandbox implements the Sandbox Manager: containerd-backed,
disposable workspaces that the validation pipeline executes its steps
in. It generalizes the teacher's container runtime wrapper from
fire-and-forget service containers to streamed, single-shot command
execution, and adds the pending-set + shutdown hook that destroys every
sandbox still pending when the process is asked to exit mid-run, whether
or not the pipeline that created it released it.
*/
package sandbox
