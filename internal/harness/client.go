// Package harness implements the Edge-Case Harness: an offline driver
// that exercises the Request Gateway's public HTTP surface under the
// Bursty, High-latency, and Connectivity scenarios and renders a
// pass/fail verdict against configured thresholds. It never reaches
// past the Gateway's HTTP surface into process internals, mirroring how
// cklxx-elephant.ai's tests/integration/api suite drives its server
// under test purely through an http.Client rather than its Go structs.
package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin wrapper over net/http.Client bound to one Gateway
// base URL and bearer token. Every scenario driver shares one Client so
// connection pooling and timeouts stay uniform across the fleet of
// simulated users a scenario spawns.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope mirrors internal/api.Response - only Data is needed here.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// errEnvelope mirrors internal/api.ErrorResponse.
type errEnvelope struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

// apiError is what a scenario inspects to tell a backpressure rejection
// apart from every other kind of failure.
type apiError struct {
	Status  int
	Code    string
	Details map[string]string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gateway returned %d %s", e.Status, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (*apiError, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var ee errEnvelope
		_ = json.Unmarshal(raw, &ee)
		return &apiError{Status: resp.StatusCode, Code: ee.Error.Code, Details: ee.Error.Details}, nil
	}

	if out != nil && len(raw) > 0 {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

type taskHandle struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// SubmitTask posts to the generic async submission endpoint.
func (c *Client) SubmitTask(ctx context.Context, kind, userID string, inputs map[string]any) (taskHandle, *apiError, error) {
	var out taskHandle
	apiErr, err := c.do(ctx, http.MethodPost, "/api/tasks", map[string]any{
		"kind": kind, "user_id": userID, "inputs": inputs,
	}, &out)
	return out, apiErr, err
}

type taskStatus struct {
	State           string `json:"state"`
	ProgressPercent int    `json:"progress_percent"`
}

func (c *Client) TaskStatus(ctx context.Context, taskID string) (taskStatus, *apiError, error) {
	var out taskStatus
	apiErr, err := c.do(ctx, http.MethodGet, "/api/tasks/"+taskID, nil, &out)
	return out, apiErr, err
}

type taskEvents struct {
	Events []struct {
		Seq       int64     `json:"seq"`
		Stage     string    `json:"stage"`
		Timestamp time.Time `json:"emitted_at"`
	} `json:"events"`
}

func (c *Client) TaskEventsSince(ctx context.Context, taskID string, sinceSeq int64) (taskEvents, *apiError, error) {
	var out taskEvents
	path := fmt.Sprintf("/api/tasks/%s/events?since_seq=%d", taskID, sinceSeq)
	apiErr, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, apiErr, err
}

func (c *Client) CancelTask(ctx context.Context, taskID string) (*apiError, error) {
	_, apiErr, err := c.doNoOut(ctx, http.MethodPost, "/api/tasks/"+taskID+"/cancel", nil)
	return apiErr, err
}

func (c *Client) doNoOut(ctx context.Context, method, path string, body any) (json.RawMessage, *apiError, error) {
	var out json.RawMessage
	apiErr, err := c.do(ctx, method, path, body, &out)
	return out, apiErr, err
}

type integrationStatus struct {
	WorkerPools     []json.RawMessage `json:"worker_pools"`
	CircuitBreakers []struct {
		Service             string `json:"service"`
		Endpoint            string `json:"endpoint"`
		Status              string `json:"status"`
		ConsecutiveFailures int    `json:"consecutive_failures"`
	} `json:"circuit_breakers"`
}

func (c *Client) IntegrationStatus(ctx context.Context) (integrationStatus, *apiError, error) {
	var out integrationStatus
	apiErr, err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, apiErr, err
}
