// Package jira provides a minimal Jira REST API v2 client covering the calls
// needed to look up, create and annotate security tickets.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/openctemio/securitysync/internal/metrics"
)

const (
	apiPrefix        = "/rest/api/2"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "securitysync/1.0"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

// Config holds the configuration for a Jira client.
type Config struct {
	BaseURL   string
	User      string
	Token     string
	RateLimit float64 // requests per second, 0 disables throttling
	Timeout   time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to a Jira instance using basic authentication.
type Client struct {
	baseURL    string
	user       string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter

	// legacySearch is set once the enhanced search endpoint answered 404.
	legacySearch atomic.Bool
}

// NewClient creates a new Jira client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("jira base URL is required")
	}
	if cfg.User == "" || cfg.Token == "" {
		return nil, errors.New("jira user and token are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		user:       cfg.User,
		token:      cfg.Token,
		httpClient: httpClient,
		limiter:    limiter,
	}, nil
}

// do performs one API call. A non-nil in is sent as JSON; a non-nil out is
// decoded from the response body. Non-2xx responses become *Error.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) (err error) {
	defer func() { metrics.RecordTrackerRequest(op, err) }()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("jira %s: wait for rate limiter: %w", op, err)
		}
	}

	endpoint := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("jira %s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("jira %s: create request: %w", op, err)
	}
	req.SetBasicAuth(c.user, c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &Error{Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newResponseError(op, resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
