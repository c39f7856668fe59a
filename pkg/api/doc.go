// Package api exposes the orchestrator over plain net/http: webhook
// ingestion from the code host, workflow lifecycle endpoints, a
// newline-delimited JSON event stream, and the health/ready/metrics
// triad. Routing and auth stay deliberately thin — a single ServeMux,
// no middleware chain library — since neither is part of the engine
// this module builds; see the teacher's pkg/api/health.go for the same
// minimalism applied to its own health endpoints.
package api
