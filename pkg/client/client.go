// Package client talks to the bridge API of a running offdoc.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:5050"
	DefaultTimeout = 2 * time.Minute
)

// Client provides HTTP access to the offdoc bridge.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

// New creates a bridge client. Chat calls wait on the model, so the default
// timeout is generous.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the bridge is up.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Bridge unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.doJSON(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Refresh asks the bridge to re-probe and returns the new readiness.
func (c *Client) Refresh(ctx context.Context) (Readiness, error) {
	var r Readiness
	err := c.doJSON(ctx, http.MethodPost, "/status/refresh", nil, &r)
	return r, err
}

func (c *Client) Notices(ctx context.Context) ([]Notice, error) {
	var n []Notice
	err := c.doJSON(ctx, http.MethodGet, "/notices", nil, &n)
	return n, err
}

// RestartBackend retries the backend launch after a failure.
func (c *Client) RestartBackend(ctx context.Context) (Status, error) {
	var st Status
	err := c.doJSON(ctx, http.MethodPost, "/backend/restart", nil, &st)
	return st, err
}

func (c *Client) Chat(ctx context.Context, message string) (Reply, error) {
	var r Reply
	err := c.doJSON(ctx, http.MethodPost, "/chat", map[string]string{"message": message}, &r)
	return r, err
}

func (c *Client) AnalyzeSymptoms(ctx context.Context, symptoms []string) (Reply, error) {
	var r Reply
	err := c.doJSON(ctx, http.MethodPost, "/symptoms", map[string][]string{"symptoms": symptoms}, &r)
	return r, err
}

func (c *Client) History(ctx context.Context) ([]HistoryRecord, error) {
	var recs []HistoryRecord
	err := c.doJSON(ctx, http.MethodGet, "/history", nil, &recs)
	return recs, err
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/history", nil, nil)
}

func (c *Client) Medications(ctx context.Context) ([]Medication, error) {
	var meds []Medication
	err := c.doJSON(ctx, http.MethodGet, "/medications", nil, &meds)
	return meds, err
}

func (c *Client) AddMedication(ctx context.Context, name string) (Medication, error) {
	var m Medication
	err := c.doJSON(ctx, http.MethodPost, "/medications", map[string]string{"name": name}, &m)
	return m, err
}

func (c *Client) RemoveMedication(ctx context.Context, index int) (Medication, error) {
	var m Medication
	err := c.doJSON(ctx, http.MethodDelete, "/medications/"+strconv.Itoa(index), nil, &m)
	return m, err
}

func (c *Client) CheckInteractions(ctx context.Context) (string, error) {
	var r Reply
	err := c.doJSON(ctx, http.MethodPost, "/medications/interactions", nil, &r)
	return r.Response, err
}

func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	err := c.doJSON(ctx, http.MethodGet, "/settings", nil, &s)
	return s, err
}

func (c *Client) UpdateSettings(ctx context.Context, u SettingsUpdate) (Settings, error) {
	var s Settings
	err := c.doJSON(ctx, http.MethodPut, "/settings", u, &s)
	return s, err
}

// doJSON performs a request and decodes a 200 response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
