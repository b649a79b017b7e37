package jira

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// User is a Jira user. Cloud instances identify users by AccountID, Server and
// Data Center instances by Name and Key.
type User struct {
	AccountID    string `json:"accountId,omitempty"`
	Key          string `json:"key,omitempty"`
	Name         string `json:"name,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Identifier returns the value used to address the user in API calls.
func (u User) Identifier() string {
	if u.AccountID != "" {
		return u.AccountID
	}
	return u.Name
}

// Mention returns the wiki markup mentioning the user.
func (u User) Mention() string {
	if u.Key != "" {
		return "[~" + u.Key + "]"
	}
	if u.AccountID != "" {
		return "[~accountid:" + u.AccountID + "]"
	}
	return "[~" + u.Name + "]"
}

// FindAssignableUsers searches users assignable to issues in a project.
func (c *Client) FindAssignableUsers(ctx context.Context, query, project string, maxResults int) ([]User, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("project", project)
	params.Set("maxResults", strconv.Itoa(maxResults))

	var users []User
	if err := c.do(ctx, "find_users", http.MethodGet, "/user/assignable/search", params, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Myself returns the authenticated user.
func (c *Client) Myself(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, "myself", http.MethodGet, "/myself", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
