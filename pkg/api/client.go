package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client represents an AranetMaestro API client
type Client struct {
	resty  *resty.Client
	apiKey string
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// Error is a non-2xx API response
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 API response
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient creates a new API client
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		resty: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30*time.Second).
			SetHeader("Accept", "application/json"),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey != "" {
		c.resty.SetHeader("X-API-Key", c.apiKey)
	}

	return c
}

// WithTimeout sets a custom timeout for the HTTP client
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.resty.SetTimeout(timeout)
	}
}

// WithAPIKey sets an API key for authentication
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithHTTPClient sets a custom HTTP client. Options applied before it are
// kept except the timeout, which the new client carries.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		base := c.resty.BaseURL
		c.resty = resty.NewWithClient(httpClient).
			SetBaseURL(base).
			SetHeader("Accept", "application/json")
	}
}

// get performs a GET request and decodes the JSON body into result
func (c *Client) get(path string, pathParams, query map[string]string, result interface{}) error {
	req := c.resty.R().SetResult(result)
	if len(pathParams) > 0 {
		req.SetPathParams(pathParams)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if resp.IsError() {
		return &Error{
			StatusCode: resp.StatusCode(),
			Message:    strings.TrimSpace(resp.String()),
		}
	}

	return nil
}
