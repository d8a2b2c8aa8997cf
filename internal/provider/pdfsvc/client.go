// Package pdfsvc is the client for the internal HTML-to-PDF rendering
// service. The service takes raw HTML in the request body, page options as
// headers, and returns the PDF bytes.
package pdfsvc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/pkg/httpretry"
	"github.com/ignite/morpheus/internal/provider"
)

const renderTimeout = 30 * time.Second

// Options are the PDF page options, passed to the service as headers.
type Options struct {
	PageSize    string
	Zoom        string
	MarginLeft  string
	MarginRight string
}

// Client renders HTML to PDF via the configured service.
type Client struct {
	baseURL string
	http    httpretry.HTTPDoer
}

// NewClient creates a PDF service client from config.
func NewClient(cfg config.PDFConfig) *Client {
	return &Client{
		baseURL: cfg.ServiceURL,
		http:    &http.Client{Timeout: renderTimeout},
	}
}

// Render posts the HTML and returns the PDF bytes.
func (c *Client) Render(ctx context.Context, html string, opts Options) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "text/html")
	if opts.PageSize != "" {
		req.Header.Set("pdf_page_size", opts.PageSize)
	}
	if opts.Zoom != "" {
		req.Header.Set("pdf_zoom", opts.Zoom)
	}
	if opts.MarginLeft != "" {
		req.Header.Set("pdf_margin_left", opts.MarginLeft)
	}
	if opts.MarginRight != "" {
		req.Header.Set("pdf_margin_right", opts.MarginRight)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.APIError{Method: http.MethodPost, URL: c.baseURL, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
