package codehost

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client satisfies orchestrator.CodeHostClient against a remote code
// host's REST API. Token is the opaque credential string spec.md §6
// passes through from configuration.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client. baseURL and token come from configuration
// (CODE_HOST_URL, CODE_HOST_TOKEN).
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Merge requests the code host merge the given pull request.
func (c *Client) Merge(ctx context.Context, prNumber int) error {
	url := fmt.Sprintf("%s/pulls/%d/merge", c.baseURL, prNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return fmt.Errorf("build merge request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("merge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("code host returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
