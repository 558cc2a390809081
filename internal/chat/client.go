package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:5000"
	DefaultTimeout = 60 * time.Second
)

// ClientConfig configures the backend client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to the backend's consultation endpoints.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type answer struct {
	Response string `json:"response"`
}

// Consult posts {message} to /consultation and returns the response text,
// which may be empty.
func (c *Client) Consult(ctx context.Context, message string) (string, error) {
	return c.post(ctx, "/consultation", map[string]any{"message": message})
}

// AnalyzeSymptoms posts {symptoms} to /analyze-symptoms.
func (c *Client) AnalyzeSymptoms(ctx context.Context, symptoms []string) (string, error) {
	return c.post(ctx, "/analyze-symptoms", map[string]any{"symptoms": symptoms})
}

// CheckInteractions posts {medications} to /medication-interaction.
func (c *Client) CheckInteractions(ctx context.Context, meds []string) (string, error) {
	return c.post(ctx, "/medication-interaction", map[string]any{"medications": meds})
}

func (c *Client) post(ctx context.Context, path string, body any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "url", url, "error", err)
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out answer
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Response, nil
}
