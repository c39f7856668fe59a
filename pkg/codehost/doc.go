// Package codehost is the real, minimal implementation standing on the
// other side of orchestrator.CodeHostClient: an HTTP client that asks
// the code host (GitHub/GitLab-shaped, but unnamed by spec.md) to merge
// a pull request once a workflow's requirements-completion predicate
// is satisfied. The code host's own REST/webhook surface is explicitly
// out of scope; this is only the one outbound call the core needs.
package codehost
