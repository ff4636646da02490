// Package httpclient is the HTTP facade used by the provider adapter and asset cache.
// It issues GET/POST requests bounded by the caller's context and returns raw bytes.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ipwatch/internal/types"
	"ipwatch/internal/version"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const defaultMaxBody = 4 << 20 // 4 MiB

// Fetcher defines the fetch primitive consumed by the core
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Request describes a single upstream call
type Request struct {
	Method string
	URL    string
	Form   url.Values
	Header map[string]string
	// Timeout bounds this call in addition to any context deadline
	Timeout time.Duration
	// MaxBytes limits the response body; zero uses the default
	MaxBytes int64
}

// Config represents client configuration
type Config struct {
	UserAgent string
	// RateLimit is requests per second per host; zero disables limiting
	RateLimit float64
	Burst     int
}

// Client implements Fetcher over net/http
type Client struct {
	http      *http.Client
	userAgent string
	limiter   *hostLimiter
	logger    *zap.Logger
}

// New creates new HTTP client
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ipwatch/" + version.GetInfo().Version
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("HTTP/2 unavailable, using HTTP/1.1", zap.Error(err))
	}

	return &Client{
		http:      &http.Client{Transport: transport},
		userAgent: cfg.UserAgent,
		limiter:   newHostLimiter(cfg.RateLimit, cfg.Burst),
		logger:    logger,
	}
}

// NewWithHTTPClient wraps an existing *http.Client
func NewWithHTTPClient(hc *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:      hc,
		userAgent: "ipwatch/" + version.GetInfo().Version,
		limiter:   newHostLimiter(0, 0),
		logger:    logger,
	}
}

// Get fetches url with GET
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.Fetch(ctx, Request{Method: http.MethodGet, URL: rawURL})
}

// PostForm posts form-encoded values to url
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	return c.Fetch(ctx, Request{Method: http.MethodPost, URL: rawURL, Form: form})
}

// Fetch performs the request. Any failure, including a non-200 status,
// is returned wrapped in types.ErrTransport.
func (c *Client) Fetch(ctx context.Context, r Request) ([]byte, error) {
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var body io.Reader
	if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", types.ErrTransport, err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if r.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json, text/plain, */*")
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}

	if err := c.limiter.wait(ctx, req.URL.Host); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", types.ErrTransport, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", types.ErrTransport, err)
	}

	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Debug("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s %s returned status %d", types.ErrTransport, r.Method, r.URL, resp.StatusCode)
	}

	limit := r.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", types.ErrTransport, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s %s response exceeds %d bytes", types.ErrTransport, r.Method, r.URL, limit)
	}

	c.logger.Debug("Upstream request completed",
		zap.String("method", r.Method),
		zap.String("url", r.URL),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))

	return data, nil
}

// CloseIdleConnections releases pooled connections
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
