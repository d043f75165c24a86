// Package gemini is a small REST client for the Generative Language API,
// covering the calls the scoring oracle and the generative provider make.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	apiVersion       = "v1beta"
	maxErrorBodySize = 4096
)

// ErrNoAPIKey is returned by calls made on a client without credentials.
var ErrNoAPIKey = errors.New("gemini api key not configured")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gemini api: HTTP %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini api: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and rate limiting (429).
// Other client errors are permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsAuth reports whether the key was rejected.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client talks to the API with a single API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	download   *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		download: &http.Client{},
		logger:   logger,
	}
}

// HasKey reports whether the client has credentials configured.
func (c *Client) HasKey() bool { return c.apiKey != "" }

// GenerateContent calls models/{model}:generateContent.
func (c *Client) GenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (*GenerateContentResponse, error) {
	var out GenerateContentResponse
	path := fmt.Sprintf("/%s/models/%s:generateContent", apiVersion, model)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PredictLongRunning starts a long-running generation job.
func (c *Client) PredictLongRunning(ctx context.Context, model string, req *PredictRequest) (*Operation, error) {
	var op Operation
	path := fmt.Sprintf("/%s/models/%s:predictLongRunning", apiVersion, model)
	if err := c.do(ctx, http.MethodPost, path, req, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetOperation fetches the current state of a long-running operation.
func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	path := fmt.Sprintf("/%s/%s", apiVersion, strings.TrimLeft(name, "/"))
	if err := c.do(ctx, http.MethodGet, path, nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Download streams a generated asset into w.
func (c *Client) Download(ctx context.Context, uri string, w io.Writer) (int64, error) {
	if !c.HasKey() {
		return 0, ErrNoAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.download.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, readAPIError(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download asset: %w", err)
	}
	return n, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if !c.HasKey() {
		return ErrNoAPIKey
	}

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
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("gemini request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("X-Request-Id", uuid.NewString())
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		apiErr.Message = envelope.Error.Message
		apiErr.Status = envelope.Error.Status
	}
	return apiErr
}
