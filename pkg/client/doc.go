// Package client is a thin Go client for orbital's HTTP API, used by
// cmd/orbital and available to other Go programs. It wraps plain
// net/http instead of the teacher's gRPC+mTLS transport: the HTTP
// surface has no certificate-issuance flow to protect, so the
// constructor shape is simplified accordingly while every method keeps
// the teacher's per-call context.WithTimeout pattern.
package client
