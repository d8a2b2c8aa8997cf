// Package provider holds the shared HTTP plumbing for the upstream delivery
// providers (Mandrill, MessageBird, the PDF renderer). Each provider package
// builds on Client and adds its own authentication and endpoints.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/morpheus/internal/pkg/httpretry"
)

// DefaultTimeout applies when a call does not override the per-request
// deadline.
const DefaultTimeout = 30 * time.Second

// APIError is returned when an upstream responds with an unexpected status.
// The body is kept verbatim so callers can classify provider-specific errors
// (for example nginx 500 pages from Mandrill).
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Client is the common JSON-over-HTTP client. Requests marshal the given
// body, apply per-request timeouts through the context, and treat any status
// outside okStatuses as an *APIError.
type Client struct {
	BaseURL    string
	HTTPClient httpretry.HTTPDoer

	// Header hooks let each provider inject its auth scheme.
	Headers map[string]string
}

// NewClient returns a Client without retries. Send endpoints must not be
// retried at the transport layer; re-delivery is the job queue's business.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		Headers:    map[string]string{},
	}
}

// NewRetryingClient returns a Client that retries transient failures. Only
// use it for idempotent GET endpoints (pricing tables, lookups).
func NewRetryingClient(baseURL string, maxRetries int) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: httpretry.NewRetryClient(&http.Client{Timeout: DefaultTimeout}, maxRetries),
		Headers:    map[string]string{},
	}
}

// Get issues a GET and decodes the JSON response into out (skipped when out
// is nil).
func (c *Client) Get(ctx context.Context, path string, timeout time.Duration, out any, okStatuses ...int) error {
	return c.do(ctx, http.MethodGet, path, nil, timeout, out, okStatuses)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body any, timeout time.Duration, out any, okStatuses ...int) error {
	return c.do(ctx, http.MethodPost, path, body, timeout, out, okStatuses)
}

// Put issues a PUT with a JSON body and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body any, timeout time.Duration, out any, okStatuses ...int) error {
	return c.do(ctx, http.MethodPut, path, body, timeout, out, okStatuses)
}

// Delete issues a DELETE and decodes the response into out.
func (c *Client) Delete(ctx context.Context, path string, timeout time.Duration, out any, okStatuses ...int) error {
	return c.do(ctx, http.MethodDelete, path, nil, timeout, out, okStatuses)
}

func (c *Client) do(ctx context.Context, method, path string, body any, timeout time.Duration, out any, okStatuses []int) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	fullURL := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if !statusAllowed(resp.StatusCode, okStatuses) {
		return &APIError{Method: method, URL: fullURL, Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

func statusAllowed(status int, okStatuses []int) bool {
	if len(okStatuses) == 0 {
		return status == http.StatusOK
	}
	for _, ok := range okStatuses {
		if status == ok {
			return true
		}
	}
	return false
}
