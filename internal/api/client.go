package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/datacure/livejobs/internal/version"
)

// DefaultBasePath prefixes every endpoint path of the job service.
const DefaultBasePath = "/api/v1"

// RequestIDHeader carries the per-call request id. The job service logs it,
// so one id ties retried attempts to a single call.
const RequestIDHeader = "X-Request-Id"

// Client talks to the job service REST API.
type Client struct {
	baseURL    string
	basePath   string
	header     http.Header
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient returns a client for the job service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		basePath: DefaultBasePath,
		header: http.Header{
			"Accept":     {"application/json"},
			"User-Agent": {UserAgent()},
		},
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// UserAgent identifies this build to the job service.
func UserAgent() string {
	return "datacure-livejobs/" + version.Version
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets how often idempotent reads are retried and the initial
// backoff between attempts.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBasePath mounts the endpoints under prefix instead of /api/v1, for
// deployments behind a path-routing proxy. An empty prefix serves them from
// the root.
func WithBasePath(prefix string) ClientOption {
	return func(c *Client) {
		prefix = strings.TrimRight(prefix, "/")
		if prefix != "" && !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		c.basePath = prefix
	}
}

// WithHeader adds a header sent on every request, e.g. an auth token set by
// the hosting dashboard. It replaces any default of the same name.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// BaseURL returns the service base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// endpoint resolves an API path against the base URL and path.
func (c *Client) endpoint(path string) string {
	return c.baseURL + c.basePath + path
}
