package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"usher/internal/api"
)

// apiClient talks to the daemon's local HTTP API.
type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(addr, token string) *apiClient {
	return &apiClient{
		base:   "http://" + addr,
		token:  token,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var status api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) Servers(ctx context.Context) ([]api.ServerStatus, error) {
	var list api.ServerListResponse
	if err := c.do(ctx, http.MethodGet, "/api/servers", nil, &list); err != nil {
		return nil, err
	}
	return list.Servers, nil
}

func (c *apiClient) AddServer(ctx context.Context, req api.CreateServerRequest) (*api.ServerStatus, error) {
	var created api.ServerStatus
	if err := c.do(ctx, http.MethodPost, "/api/servers", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *apiClient) RemoveServer(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/servers/%d", id), nil, nil)
}

func (c *apiClient) TestServer(ctx context.Context, id int64) (*api.TestConnectionResponse, error) {
	var result api.TestConnectionResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/servers/%d/test", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *apiClient) Sessions(ctx context.Context) ([]api.SessionInfo, error) {
	var list api.SessionListResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &list); err != nil {
		return nil, err
	}
	return list.Sessions, nil
}

func (c *apiClient) Sync(ctx context.Context) ([]api.SyncServerResult, error) {
	var resp api.SyncResponse
	if err := c.do(ctx, http.MethodPost, "/api/sync", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr api.ErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("daemon: %s", apiErr.Error)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
