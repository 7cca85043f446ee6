// Package llm provides the OpenRouter HTTP client with streaming and
// reasoning support.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client is an HTTP client for the OpenRouter chat completions API. It is
// safe for concurrent use; the underlying connection pool is shared by
// every chat.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new LLM client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    NewHTTPClient(0),
	}
}

// NewHTTPClient returns an http.Client suited to long token streams: no
// overall timeout, only a bound on establishing the connection. A zero
// connectTimeout leaves dialing to the transport defaults.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	if connectTimeout > 0 {
		transport.DialContext = (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		transport.TLSHandshakeTimeout = connectTimeout
	}
	return &http.Client{Transport: transport}
}

// SetBaseURL overrides the default API base URL. Useful for testing.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// SetHTTPClient replaces the HTTP client used for requests.
func (c *Client) SetHTTPClient(h *http.Client) {
	c.http = h
}

// StreamChat sends a streaming chat completion request and returns the
// decoded delta stream. The caller must Close the stream. Cancelling ctx
// aborts the request and ends the stream at the next read.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (*Stream, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	return NewStream(ctx, resp.Body), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("HTTP-Referer", "https://github.com/gavinyap/bigseek")
	req.Header.Set("X-Title", "bigseek")
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
