// Package client is a thin HTTP client for the daemon API, used by the
// CLI. It mirrors the daemon's JSON surface one method per endpoint.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/api"
	"conveyor/internal/broadcast"
)

// Client talks to a running conveyor daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for the daemon listening at bind (host:port).
func New(bind, token string) *Client {
	base := strings.TrimSpace(bind)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches the daemon runtime snapshot.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	err := c.getJSON(ctx, "/api/status", &status)
	return status, err
}

// Jobs lists jobs, optionally filtered by status names.
func (c *Client) Jobs(ctx context.Context, statuses ...string) ([]api.JobView, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, status := range statuses {
			values[i] = "status=" + status
		}
		path += "?" + strings.Join(values, "&")
	}
	var response api.JobListResponse
	if err := c.getJSON(ctx, path, &response); err != nil {
		return nil, err
	}
	return response.Jobs, nil
}

// Job fetches one job with its stage run history.
func (c *Client) Job(ctx context.Context, id int64) (api.JobView, error) {
	var view api.JobView
	err := c.getJSON(ctx, fmt.Sprintf("/api/jobs/%d", id), &view)
	return view, err
}

// Stats fetches normalized job counts.
func (c *Client) Stats(ctx context.Context) (api.StatsView, error) {
	var stats api.StatsView
	err := c.getJSON(ctx, "/api/stats", &stats)
	return stats, err
}

// SubmitBatch submits artifacts for processing.
func (c *Client) SubmitBatch(ctx context.Context, req api.BatchRequest) (api.BatchResponse, error) {
	var response api.BatchResponse
	body, err := json.Marshal(req)
	if err != nil {
		return response, err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/batch", bytes.NewReader(body))
	if err != nil {
		return response, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	err = c.do(httpReq, &response)
	return response, err
}

// RemoveJob deletes one job and its stage runs.
func (c *Client) RemoveJob(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/jobs/%d", id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ClearJobs deletes jobs by scope ("all", "completed" or "failed") and
// returns how many rows were removed.
func (c *Client) ClearJobs(ctx context.Context, scope string) (int64, error) {
	body, err := json.Marshal(api.ClearRequest{Scope: scope})
	if err != nil {
		return 0, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/jobs/clear", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	var response api.ClearResponse
	if err := c.do(req, &response); err != nil {
		return 0, err
	}
	return response.Removed, nil
}

// Events opens the NDJSON stream and invokes handle per event until the
// context ends or the stream closes.
func (c *Client) Events(ctx context.Context, handle func(broadcast.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/events", nil)
	if err != nil {
		return err
	}
	// Streaming request: the shared client timeout would kill the watch.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event broadcast.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := handle(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) errorFrom(resp *http.Response) error {
	var payload api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s (%d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}
