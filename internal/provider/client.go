package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"muse/internal/logging"
)

const (
	// DefaultBaseURL is the default upstream media API base URL.
	DefaultBaseURL = "https://api.minimax.io"

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the retry budget for transient errors.
	DefaultMaxRetries = 2
)

// Client talks to the upstream media generation provider. One client serves
// all three modalities.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	maxRetries  int
	backoffBase time.Duration
	logger      logging.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the maximum number of retries for transient errors.
func WithRetry(maxRetries int) Option {
	return func(c *Client) { c.maxRetries = maxRetries }
}

// WithBackoff sets the base backoff between retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a provider client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		apiKey:      apiKey,
		maxRetries:  DefaultMaxRetries,
		backoffBase: time.Second,
		logger:      logging.NewComponentLogger("Provider"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return c
}

// baseResp is the provider's API-level status wrapper, present in every
// response body alongside the payload.
type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

// request performs an API call with exponential backoff on retryable errors.
func (c *Client) request(ctx context.Context, method, path string, body, result any) error {
	var bodyData []byte
	if body != nil {
		var err error
		bodyData, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase * time.Duration(1<<uint(attempt-1))
			c.logger.Debug("Retrying %s %s after %s (attempt %d/%d)", method, path, backoff, attempt, c.maxRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := c.do(ctx, method, path, bodyData, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if apiErr, ok := AsError(err); ok && !apiErr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// do performs a single HTTP request.
func (c *Client) do(ctx context.Context, method, path string, bodyData []byte, result any) error {
	var bodyReader io.Reader
	if bodyData != nil {
		bodyReader = bytes.NewReader(bodyData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if bodyData != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseError(raw, resp.StatusCode)
	}

	// The provider reports API-level failures inside a 200 response.
	var wrapper struct {
		BaseResp *baseResp `json:"base_resp"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		if wrapper.BaseResp != nil && wrapper.BaseResp.StatusCode != 0 {
			return &Error{
				Code:       wrapper.BaseResp.StatusCode,
				Message:    wrapper.BaseResp.StatusMsg,
				HTTPStatus: resp.StatusCode,
			}
		}
	}

	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func parseError(body []byte, httpStatus int) error {
	var wrapper struct {
		BaseResp *baseResp `json:"base_resp"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.BaseResp != nil {
		return &Error{
			Code:       wrapper.BaseResp.StatusCode,
			Message:    wrapper.BaseResp.StatusMsg,
			HTTPStatus: httpStatus,
		}
	}
	return &Error{
		Code:       httpStatus,
		Message:    string(body),
		HTTPStatus: httpStatus,
	}
}
