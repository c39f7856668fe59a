/*
Package storage defines the Store repository interface and a bbolt-backed
implementation for orbital's durable state: workflows (with their
transition history embedded), pipeline executions, sandbox records, and
an append-only audit log. Every write is a JSON-encoded put keyed by ID;
every "list by workflow" query is a bucket scan filtered on WorkflowID,
which is adequate at orbital's scale of concurrently active workflows.
*/
package storage
