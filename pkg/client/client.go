package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orbitalci/orbital/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Client wraps orbital's HTTP API for easy CLI and program usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client pointed at addr (e.g. "http://localhost:8080").
func NewClient(addr string) *Client {
	return &Client{
		baseURL: addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartWorkflowRequest mirrors pkg/api's POST /workflows body.
type StartWorkflowRequest struct {
	ProjectID     string `json:"project_id"`
	Goal          string `json:"goal"`
	PlanningHint  string `json:"planning_hint"`
	MaxIterations int    `json:"max_iterations"`
	AutoConfirm   bool   `json:"auto_confirm"`
	AutoMergePR   bool   `json:"auto_merge_pr"`
}

// StartWorkflow creates a workflow and returns its initial record.
func (c *Client) StartWorkflow(req StartWorkflowRequest) (*types.Workflow, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var wf types.Workflow
	if err := c.do(ctx, http.MethodPost, "/workflows", req, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetWorkflow fetches a workflow by id.
func (c *Client) GetWorkflow(id string) (*types.Workflow, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var wf types.Workflow
	if err := c.do(ctx, http.MethodGet, "/workflows/"+id, nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// CancelWorkflow requests cancellation of a workflow.
func (c *Client) CancelWorkflow(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/workflows/"+id+"/cancel", nil, nil)
}

// Healthy reports whether the server's /health endpoint responds ok.
func (c *Client) Healthy() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// do issues one HTTP call, JSON-encoding body (if non-nil) and decoding
// the response into out (if non-nil). Non-2xx responses are surfaced as
// errors carrying the server's {"error": "..."} message when present.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
