// Package metrics exposes the prometheus collectors orbital registers for
// workflows, pipelines, sandboxes, the event bus, the API surface, and the
// reconciler, plus a promhttp.Handler for the /metrics endpoint.
package metrics
