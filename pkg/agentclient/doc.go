// Package agentclient is the real, minimal implementation standing on
// the other side of orchestrator.AgentClient: a thin HTTP client that
// POSTs plan/code requests to the external code-generation agent
// service named in spec.md §1 ("treated as a remote service behind a
// narrow interface"). The agent's own planning/generation logic is
// explicitly out of scope; this package only has to get a request to
// it and a response back.
package agentclient
