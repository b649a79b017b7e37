package jira

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Issue is the subset of a Jira issue the tool reads back.
type Issue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self,omitempty"`
}

// SearchRequest is a JQL search.
type SearchRequest struct {
	JQL        string   `json:"jql"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields,omitempty"`
}

// SearchResult holds the issues matching a JQL search. Total is only reported
// by the legacy search endpoint.
type SearchResult struct {
	Total  int     `json:"total"`
	Issues []Issue `json:"issues"`
}

// IssueFields is the field set sent when creating an issue.
type IssueFields struct {
	Project     ProjectRef   `json:"project"`
	Summary     string       `json:"summary"`
	Description string       `json:"description"`
	IssueType   IssueTypeRef `json:"issuetype"`
	Labels      []string     `json:"labels,omitempty"`
}

// ProjectRef references a project by key.
type ProjectRef struct {
	Key string `json:"key"`
}

// IssueTypeRef references an issue type by name.
type IssueTypeRef struct {
	Name string `json:"name"`
}

// Comment is a comment to post, optionally restricted to a role or group.
type Comment struct {
	Body       string      `json:"body"`
	Visibility *Visibility `json:"visibility,omitempty"`
}

// Visibility restricts who can see a comment.
type Visibility struct {
	Type  string `json:"type"` // "role" or "group"
	Value string `json:"value"`
}

// Search runs a JQL query against the enhanced search endpoint, falling back
// to the legacy one on instances that do not serve it.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	var result SearchResult
	if !c.legacySearch.Load() {
		err := c.do(ctx, "search", http.MethodPost, "/search/jql", nil, req, &result)
		if err == nil {
			return &result, nil
		}
		if !endpointMissing(err) {
			return nil, err
		}
		c.legacySearch.Store(true)
		result = SearchResult{}
	}

	if err := c.do(ctx, "search", http.MethodPost, "/search", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// endpointMissing reports whether the server does not serve the called path.
func endpointMissing(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusGone:
		return true
	}
	return false
}

// CreateIssue creates an issue and returns its key.
func (c *Client) CreateIssue(ctx context.Context, fields IssueFields) (*Issue, error) {
	payload := struct {
		Fields IssueFields `json:"fields"`
	}{Fields: fields}

	var issue Issue
	if err := c.do(ctx, "create_issue", http.MethodPost, "/issue", nil, payload, &issue); err != nil {
		return nil, err
	}
	if issue.Key == "" {
		return nil, &Error{Operation: "create_issue", Err: errors.New("response carried no issue key")}
	}
	return &issue, nil
}

// AddWatcher adds a user as watcher of an issue. The identifier is the account
// id on Jira Cloud and the username on Jira Server.
func (c *Client) AddWatcher(ctx context.Context, issueKey, userIdentifier string) error {
	path := "/issue/" + url.PathEscape(issueKey) + "/watchers"
	return c.do(ctx, "add_watcher", http.MethodPost, path, nil, userIdentifier, nil)
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, issueKey string, comment Comment) error {
	path := "/issue/" + url.PathEscape(issueKey) + "/comment"
	return c.do(ctx, "add_comment", http.MethodPost, path, nil, comment, nil)
}
