// Package health implements the checkers behind the health_check pipeline
// step: HTTP, TCP, and exec-in-sandbox, plus a Status tracker that applies
// consecutive-failure/success thresholds and a startup grace period.
package health
