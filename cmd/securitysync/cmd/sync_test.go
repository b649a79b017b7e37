package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackends serves the GitHub GraphQL endpoint and the Jira REST API from
// one test server.
type fakeBackends struct {
	mu          sync.Mutex
	jiraStatus  int // status for /myself, 0 means 200
	alertPages  int
	created     [][]string // labels of created issues
	onCreate    func()
	viewerCalls int
}

func (f *fakeBackends) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/graphql":
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case strings.Contains(req.Query, "viewer"):
			f.viewerCalls++
			_, _ = io.WriteString(w, `{"data": {"viewer": {"login": "security-bot"}}}`)
		case strings.Contains(req.Query, "vulnerabilityAlerts"):
			f.alertPages++
			_, _ = io.WriteString(w, `{"data": {"repository": {"vulnerabilityAlerts": {
				"pageInfo": {"hasNextPage": false},
				"nodes": [{
					"securityVulnerability": {
						"advisory": {"identifiers": [{"type": "GHSA", "value": "GHSA-35jh-r3h4-6jhm"}], "severity": "HIGH"},
						"firstPatchedVersion": {"identifier": "4.17.21"},
						"package": {"name": "lodash", "ecosystem": "NPM"},
						"severity": "HIGH",
						"vulnerableVersionRange": "< 4.17.21"
					},
					"vulnerableManifestPath": "package.json"
				}]
			}}}}`)
		default:
			_, _ = io.WriteString(w, `{"data": {"search": {"pageInfo": {"hasNextPage": false}, "nodes": []}}}`)
		}

	case r.URL.Path == "/rest/api/2/myself":
		if f.jiraStatus != 0 {
			w.WriteHeader(f.jiraStatus)
			_, _ = io.WriteString(w, `{"errorMessages": ["Unauthorized"]}`)
			return
		}
		_, _ = io.WriteString(w, `{"accountId": "5b10a2844c20165700ede21g", "displayName": "Security Bot"}`)

	case r.URL.Path == "/rest/api/2/search/jql":
		_, _ = io.WriteString(w, `{"isLast": true, "issues": []}`)

	case r.URL.Path == "/rest/api/2/issue" && r.Method == http.MethodPost:
		var payload struct {
			Fields struct {
				Labels []string `json:"labels"`
			} `json:"fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.created = append(f.created, payload.Fields.Labels)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id": "10001", "key": "SEC-1"}`)
		if f.onCreate != nil {
			f.onCreate()
		}

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBackends) calls() (viewer, alertPages int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewerCalls, f.alertPages
}

func (f *fakeBackends) createdLabels() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.created...)
}

// startBackends points the environment at a fake GitHub and Jira.
func startBackends(t *testing.T) *fakeBackends {
	t.Helper()
	backends := &fakeBackends{}
	srv := httptest.NewServer(backends)
	t.Cleanup(srv.Close)

	t.Setenv("GITHUB_REPOSITORY", "acme/shop")
	t.Setenv("GH_SECURITY_TOKEN", "ghp_test")
	t.Setenv("GITHUB_API_URL", srv.URL)
	t.Setenv("GITHUB_SERVER_URL", "https://github.com")
	t.Setenv("JIRA_HOST", srv.URL)
	t.Setenv("JIRA_USER", "bot@acme.test")
	t.Setenv("JIRA_TOKEN", "jira-token")
	t.Setenv("JIRA_PROJECT", "SEC")
	t.Setenv("JIRA_RATE_LIMIT", "1000")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("METRICS_TEXTFILE", "")
	t.Setenv("DRY_RUN", "")
	return backends
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		_ = syncCmd.Flags().Set("check", "false")
		_ = syncCmd.Flags().Set("dry-run", "false")
		_ = watchCmd.Flags().Set("dry-run", "false")
	})

	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestSyncCommand_Check(t *testing.T) {
	backends := startBackends(t)

	out, err := execute(t, context.Background(), "sync", "--check")

	require.NoError(t, err)
	assert.Contains(t, out, "GitHub: authenticated as security-bot\n")
	assert.Contains(t, out, "Jira:   authenticated as Security Bot\n")
	assert.NotContains(t, out, "Redis")
	viewer, alertPages := backends.calls()
	assert.Equal(t, 1, viewer)
	assert.Zero(t, alertPages)
	assert.Empty(t, backends.createdLabels())
}

func TestSyncCommand_CheckJiraRejected(t *testing.T) {
	backends := startBackends(t)
	backends.mu.Lock()
	backends.jiraStatus = http.StatusUnauthorized
	backends.mu.Unlock()

	out, err := execute(t, context.Background(), "sync", "--check")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "jira check failed")
	assert.Contains(t, out, "GitHub: authenticated as security-bot")
	assert.NotContains(t, out, "Jira:")
}

func TestSyncCommand_CreatesTicket(t *testing.T) {
	backends := startBackends(t)

	_, err := execute(t, context.Background(), "sync")

	require.NoError(t, err)
	_, alertPages := backends.calls()
	assert.Equal(t, 1, alertPages)
	created := backends.createdLabels()
	require.Len(t, created, 1)
	assert.Equal(t, []string{"acme/shop", "lodash:4.17.21"}, created[0][:2])
}

func TestSyncCommand_DryRunCreatesNothing(t *testing.T) {
	backends := startBackends(t)

	_, err := execute(t, context.Background(), "sync", "--dry-run")

	require.NoError(t, err)
	_, alertPages := backends.calls()
	assert.Equal(t, 1, alertPages)
	assert.Empty(t, backends.createdLabels())
}

func TestWatchCommand_RunsOnStart(t *testing.T) {
	backends := startBackends(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	backends.onCreate = cancel

	_, err := execute(t, ctx, "watch", "--schedule", "@every 1h", "--listen=")

	require.NoError(t, err)
	require.Len(t, backends.createdLabels(), 1)
	assert.NotErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}
