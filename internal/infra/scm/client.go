// Package scm provides the source code host client that fetches security
// findings (vulnerability alerts and dependency-update pull requests).
package scm

import (
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIURL    = "https://api.github.com"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "securitysync/1.0"

	// pageSize is the GraphQL page size; 100 is the API maximum.
	pageSize = 100
	// defaultMaxPages bounds pagination against a misbehaving cursor.
	defaultMaxPages = 50
	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 << 20
)

// Config holds the configuration for a GitHub client.
type Config struct {
	APIURL      string // REST API base, e.g. https://api.github.com or https://ghe.example.com/api/v3
	AccessToken string
	Repository  string // owner/name
	Timeout     time.Duration
	MaxPages    int // pages fetched per query before failing, 0 means 50

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// graphQLURL derives the GraphQL endpoint from the REST API base URL.
func (c Config) graphQLURL() string {
	base := strings.TrimSuffix(c.APIURL, "/")
	if base == "" {
		base = defaultAPIURL
	}
	base = strings.TrimSuffix(base, "/v3")
	return base + "/graphql"
}

// Common errors
var (
	ErrAuthFailed     = NewSCMError("authentication failed", "AUTH_FAILED")
	ErrRateLimited    = NewSCMError("rate limit exceeded", "RATE_LIMITED")
	ErrNotFound       = NewSCMError("resource not found", "NOT_FOUND")
	ErrGraphQL        = NewSCMError("graphql query failed", "GRAPHQL_ERROR")
	ErrInvalidRepo    = NewSCMError("repository must be in owner/name form", "INVALID_REPOSITORY")
	ErrUnexpectedResp = NewSCMError("unexpected response", "UNEXPECTED_RESPONSE")
	ErrTruncated      = NewSCMError("result has more pages than allowed", "TRUNCATED")
)

// SCMError represents an error from an SCM provider
type SCMError struct {
	Message string
	Code    string
	Wrapped error
}

// NewSCMError creates a new SCMError
func NewSCMError(message, code string) *SCMError {
	return &SCMError{Message: message, Code: code}
}

// Error implements the error interface
func (e *SCMError) Error() string {
	if e.Wrapped != nil {
		return e.Message + ": " + e.Wrapped.Error()
	}
	return e.Message
}

// Wrap wraps an underlying error
func (e *SCMError) Wrap(err error) *SCMError {
	return &SCMError{
		Message: e.Message,
		Code:    e.Code,
		Wrapped: err,
	}
}

// Unwrap returns the wrapped error
func (e *SCMError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an SCMError with the same code, so wrapped
// copies still match the sentinels above.
func (e *SCMError) Is(target error) bool {
	t, ok := target.(*SCMError)
	return ok && t.Code == e.Code
}
