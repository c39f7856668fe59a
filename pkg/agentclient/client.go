package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orbitalci/orbital/pkg/orchestrator"
)

// Client satisfies orchestrator.AgentClient against a remote agent
// service reachable over HTTP. Token is the opaque credential string
// spec.md §6 passes through from configuration.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client. baseURL and token come straight from
// configuration (AGENT_SERVICE_URL, AGENT_SERVICE_TOKEN).
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Plan asks the agent to produce a plan summary for the given goal and
// accumulated context.
func (c *Client) Plan(ctx context.Context, req orchestrator.PlanRequest) (orchestrator.PlanResult, error) {
	var out orchestrator.PlanResult
	err := c.do(ctx, "/plan", req, &out)
	return out, err
}

// GenerateCode asks the agent to implement a confirmed plan and open a
// pull request, returning the agent run id and PR number it reports.
func (c *Client) GenerateCode(ctx context.Context, req orchestrator.CodeRequest) (orchestrator.CodeResult, error) {
	var out orchestrator.CodeResult
	err := c.do(ctx, "/code", req, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode agent response: %w", err)
	}
	return nil
}
