package jira

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Common errors
var (
	ErrUnauthorized = errors.New("jira authentication failed")
	ErrNotFound     = errors.New("jira resource not found")
	ErrRateLimited  = errors.New("jira rate limit exceeded")
)

// Error is returned for failed Jira API calls.
type Error struct {
	Operation  string
	StatusCode int      // 0 when no response was received
	Messages   []string // errorMessages and field errors reported by Jira
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "jira %s", e.Operation)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status %d", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&sb, ": %s", strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps HTTP status codes onto the sentinel errors.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

type errorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

func newResponseError(op string, status int, body []byte) *Error {
	e := &Error{Operation: op, StatusCode: status}

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			e.Messages = []string{truncate(text, 200)}
		}
		return e
	}

	e.Messages = append(e.Messages, parsed.ErrorMessages...)
	fields := make([]string, 0, len(parsed.Errors))
	for field := range parsed.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		e.Messages = append(e.Messages, field+": "+parsed.Errors[field])
	}
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
