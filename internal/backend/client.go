// Package backend is the HTTP client for the Backend Job Service. Every call
// is attempted exactly once; callers decide whether a failure matters.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected HTTP status %d", e.Method, e.URL, e.StatusCode)
}

// LogLine is the body of a log ingestion call.
type LogLine struct {
	Line string `json:"line"`
}

type resolveResponse struct {
	JobID json.RawMessage `json:"jobId"`
}

// Client talks to the backend job endpoints under a base URL.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
}

// NewClient creates a client. requestTimeout bounds the resolve and config
// calls; log calls are bounded by the caller's context.
func NewClient(baseURL string, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     cleanhttp.DefaultPooledClient(),
		requestTimeout: requestTimeout,
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) jobURL(jobID string, suffix string) string {
	return c.baseURL + "/jobs/" + url.PathEscape(jobID) + suffix
}

// PostLog sends one log line to POST /jobs/{id}/logs.
func (c *Client) PostLog(ctx context.Context, jobID, line string) error {
	body, err := json.Marshal(LogLine{Line: line})
	if err != nil {
		return fmt.Errorf("failed to encode log line: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobURL(jobID, "/logs"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)
	return err
}

// ResolveJobID calls GET /jobs/resolve?name={name} and returns the raw jobId
// value: the unquoted string, or the literal for a JSON number. An absent or
// null field yields an empty string.
func (c *Client) ResolveJobID(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	endpoint := c.baseURL + "/jobs/resolve?" + url.Values{"name": {name}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build resolve request: %w", err)
	}

	data, err := c.do(req)
	if err != nil {
		return "", err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", fmt.Errorf("resolve response is not a JSON object")
	}

	var resp resolveResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return "", fmt.Errorf("failed to decode resolve response: %w", err)
	}

	raw := bytes.TrimSpace(resp.JobID)
	switch {
	case len(raw) == 0 || string(raw) == "null":
		return "", nil
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("failed to decode jobId: %w", err)
		}
		return s, nil
	default:
		return string(raw), nil
	}
}

// FetchConfig calls GET /jobs/{id}/config and returns the raw body.
func (c *Client) FetchConfig(ctx context.Context, jobID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(jobID, "/config"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", req.Method, req.URL.Redacted(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, &StatusError{Method: req.Method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
	}

	return data, nil
}
