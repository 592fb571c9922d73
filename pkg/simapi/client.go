// Package simapi is the REST client for the network-simulation application
// hosted on each worker. All calls are network-fallible and may be slow; the
// lifecycle handlers treat every error here as an integration failure, never
// a crash.
package simapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"simfleet/pkg/config"
	"simfleet/pkg/logger"
	"simfleet/pkg/telemetry"
)

// Client talks to one worker's sim app instance.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// Factory builds a client for a worker address. The idle job and sync
// services resolve clients per worker at dispatch time; live clients are
// never serialized into job payloads.
type Factory func(address string) *Client

// NewFactory returns a Factory bound to the static sim API config.
func NewFactory(cfg config.SimAPIConfig) Factory {
	return func(address string) *Client {
		return NewClient(cfg, address)
	}
}

// NewClient creates a client for the sim app at the given worker address.
func NewClient(cfg config.SimAPIConfig, address string) *Client {
	return &Client{
		baseURL:  fmt.Sprintf("%s://%s:%d/api/v0", cfg.Scheme, address, cfg.Port),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Login authenticates and caches the bearer token. Called lazily by
// doRequest on the first call and after a 401.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{"username": c.username, "password": c.password}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authenticate", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authenticate failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authenticate failed: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return fmt.Errorf("failed to parse auth token: %w", err)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// GetSystemInfo fetches version and readiness.
func (c *Client) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.getJSON(ctx, "/system_information", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetSystemHealth fetches the health blob.
func (c *Client) GetSystemHealth(ctx context.Context) (*SystemHealth, error) {
	var health SystemHealth
	if err := c.getJSON(ctx, "/system_health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// GetSystemStats fetches resource utilization.
func (c *Client) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats
	if err := c.getJSON(ctx, "/system_stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetLicensing fetches the current license report.
func (c *Client) GetLicensing(ctx context.Context) (*Licensing, error) {
	var lic Licensing
	if err := c.getJSON(ctx, "/licensing", &lic); err != nil {
		return nil, err
	}
	return &lic, nil
}

// RegisterLicense submits a license token. reregister forces replacement of
// an existing registration.
func (c *Client) RegisterLicense(ctx context.Context, token string, reregister bool) (*RegisterResult, error) {
	payload := map[string]interface{}{"token": token, "reregister": reregister}
	var result RegisterResult
	if err := c.postJSON(ctx, "/licensing/registration", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeregisterLicense removes the current registration.
func (c *Client) DeregisterLicense(ctx context.Context) (*RegisterResult, error) {
	var result RegisterResult
	if err := c.doJSON(ctx, http.MethodDelete, "/licensing/registration", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLabs lists topologies on the worker.
func (c *Client) GetLabs(ctx context.Context) ([]Lab, error) {
	var labs []Lab
	if err := c.getJSON(ctx, "/labs?show_all=true", &labs); err != nil {
		return nil, err
	}
	return labs, nil
}

// StartLab starts a topology.
func (c *Client) StartLab(ctx context.Context, labID string) (bool, error) {
	return c.labAction(ctx, labID, "start")
}

// StopLab stops a topology.
func (c *Client) StopLab(ctx context.Context, labID string) (bool, error) {
	return c.labAction(ctx, labID, "stop")
}

// WipeLab wipes a topology's runtime state.
func (c *Client) WipeLab(ctx context.Context, labID string) (bool, error) {
	return c.labAction(ctx, labID, "wipe")
}

// DownloadLab fetches the raw topology definition.
func (c *Client) DownloadLab(ctx context.Context, labID string) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, fmt.Sprintf("/labs/%s/download", labID), nil)
}

// GetTelemetryEvents fetches the worker's recent raw telemetry events.
// Relevance filtering happens caller-side.
func (c *Client) GetTelemetryEvents(ctx context.Context) ([]telemetry.Event, error) {
	var resp TelemetryResponse
	if err := c.getJSON(ctx, "/telemetry/events", &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) labAction(ctx context.Context, labID, action string) (bool, error) {
	if err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/labs/%s/%s", labID, action), nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	raw, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

// doRaw performs the request, logging in first when no token is cached and
// retrying once after a 401 (expired token).
func (c *Client) doRaw(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	raw, status, err := c.attempt(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		raw, status, err = c.attempt(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		logger.DebugCtx(ctx, "sim api %s %s returned status %d: %s", method, path, status, truncate(raw, 200))
		return nil, fmt.Errorf("sim api %s %s: status %d", method, path, status)
	}
	return raw, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("sim api request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
