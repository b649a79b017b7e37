package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL + "/", User: "bot", Token: "secret"})
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{User: "bot", Token: "x"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "https://jira.example.com"})
	assert.Error(t, err)
}

func TestClient_Search(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/2/search/jql", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "secret", pass)

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, `project = "SEC"`, req.JQL)
		assert.Equal(t, 1, req.MaxResults)

		_, _ = io.WriteString(w, `{"isLast": true, "issues": [{"id": "10", "key": "SEC-2"}, {"id": "9", "key": "SEC-1"}]}`)
	})

	result, err := client.Search(context.Background(), SearchRequest{JQL: `project = "SEC"`, MaxResults: 1})

	require.NoError(t, err)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, "SEC-2", result.Issues[0].Key)
}

func TestClient_Search_LegacyEndpointFallback(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"gone", http.StatusGone},
		{"method not allowed", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var enhanced, legacy atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/rest/api/2/search/jql":
					enhanced.Add(1)
					w.WriteHeader(tt.status)
				case "/rest/api/2/search":
					legacy.Add(1)
					_, _ = io.WriteString(w, `{"total": 1, "issues": [{"id": "9", "key": "SEC-1"}]}`)
				default:
					t.Errorf("unexpected path %s", r.URL.Path)
				}
			})

			for range 2 {
				result, err := client.Search(context.Background(), SearchRequest{JQL: `project = "SEC"`, MaxResults: 1})
				require.NoError(t, err)
				assert.Equal(t, 1, result.Total)
				require.Len(t, result.Issues, 1)
				assert.Equal(t, "SEC-1", result.Issues[0].Key)
			}

			assert.EqualValues(t, 1, enhanced.Load())
			assert.EqualValues(t, 2, legacy.Load())
		})
	}
}

func TestClient_Search_ErrorDoesNotFallBack(t *testing.T) {
	var legacy atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/2/search" {
			legacy.Add(1)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errorMessages": ["Field 'labels' does not exist"]}`)
	})

	_, err := client.Search(context.Background(), SearchRequest{JQL: "labels = x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.EqualValues(t, 0, legacy.Load())
}

func TestClient_CreateIssue(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload struct {
			Fields IssueFields `json:"fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "SEC", payload.Fields.Project.Key)
		assert.Equal(t, "lodash (4.17.21)", payload.Fields.Summary)
		assert.Equal(t, "Bug", payload.Fields.IssueType.Name)
		assert.Equal(t, []string{"acme/shop", "lodash:4.17.21"}, payload.Fields.Labels)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": "10001", "key": "SEC-42", "self": "https://jira/rest/api/2/issue/10001"}`)
	})

	issue, err := client.CreateIssue(context.Background(), IssueFields{
		Project:   ProjectRef{Key: "SEC"},
		Summary:   "lodash (4.17.21)",
		IssueType: IssueTypeRef{Name: "Bug"},
		Labels:    []string{"acme/shop", "lodash:4.17.21"},
	})

	require.NoError(t, err)
	assert.Equal(t, "SEC-42", issue.Key)
}

func TestClient_CreateIssue_ErrorResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errorMessages": ["bad request"], "errors": {"labels": "invalid label", "issuetype": "unknown"}}`)
	})

	_, err := client.CreateIssue(context.Background(), IssueFields{})

	require.Error(t, err)
	var jerr *Error
	require.True(t, errors.As(err, &jerr))
	assert.Equal(t, http.StatusBadRequest, jerr.StatusCode)
	assert.Equal(t, []string{"bad request", "issuetype: unknown", "labels: invalid label"}, jerr.Messages)
	assert.Contains(t, err.Error(), "jira create_issue: status 400")
}

func TestClient_CreateIssue_MissingKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{}`)
	})

	_, err := client.CreateIssue(context.Background(), IssueFields{})

	assert.Error(t, err)
}

func TestClient_ErrorSentinels(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, "plain text failure")
			})

			_, err := client.Myself(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), "plain text failure")
		})
	}
}

func TestClient_AddWatcher(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/SEC-42/watchers", r.URL.Path)
		var id string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&id))
		assert.Equal(t, "5b10ac8d82e05b22cc7d4ef5", id)
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.AddWatcher(context.Background(), "SEC-42", "5b10ac8d82e05b22cc7d4ef5")

	assert.NoError(t, err)
}

func TestClient_AddComment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/SEC-42/comment", r.URL.Path)
		var c Comment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		assert.Equal(t, "Please triage", c.Body)
		require.NotNil(t, c.Visibility)
		assert.Equal(t, "role", c.Visibility.Type)
		assert.Equal(t, "Developers", c.Visibility.Value)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": "1"}`)
	})

	err := client.AddComment(context.Background(), "SEC-42", Comment{
		Body:       "Please triage",
		Visibility: &Visibility{Type: "role", Value: "Developers"},
	})

	assert.NoError(t, err)
}

func TestClient_FindAssignableUsers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/user/assignable/search", r.URL.Path)
		assert.Equal(t, "alice@acme.test", r.URL.Query().Get("query"))
		assert.Equal(t, "SEC", r.URL.Query().Get("project"))
		assert.Equal(t, "1", r.URL.Query().Get("maxResults"))
		_, _ = io.WriteString(w, `[{"accountId": "abc", "displayName": "Alice"}]`)
	})

	users, err := client.FindAssignableUsers(context.Background(), "alice@acme.test", "SEC", 1)

	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "abc", users[0].Identifier())
	assert.Equal(t, "[~accountid:abc]", users[0].Mention())
}

func TestUser_IdentifierAndMention(t *testing.T) {
	server := User{Key: "JIRAUSER1", Name: "alice"}
	assert.Equal(t, "alice", server.Identifier())
	assert.Equal(t, "[~JIRAUSER1]", server.Mention())

	nameOnly := User{Name: "bob"}
	assert.Equal(t, "[~bob]", nameOnly.Mention())
}

func TestClient_RespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, User: "bot", Token: "secret", RateLimit: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Myself(ctx)

	assert.Error(t, err)
}

func TestClient_Throttles(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"name": "bot"}`)
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, User: "bot", Token: "secret", RateLimit: 20})
	require.NoError(t, err)

	start := time.Now()
	for range 3 {
		_, err := client.Myself(context.Background())
		require.NoError(t, err)
	}

	// Burst 1 at 20/s: the second and third calls each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}
