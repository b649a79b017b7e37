package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openctemio/securitysync/internal/config"
	"github.com/openctemio/securitysync/internal/infra/jira"
	"github.com/openctemio/securitysync/pkg/domain/finding"
)

// =============================================================================
// In-memory tracker
// =============================================================================

// memoryTracker is a TrackerClient keeping issues in memory. Search matches
// issues whose first two labels (repository, unique id) build the same JQL as
// the query.
type memoryTracker struct {
	mu       sync.Mutex
	project  string
	issues   []jira.IssueFields
	keys     []string
	users    map[string]jira.User
	watchers map[string][]string
	comments map[string][]jira.Comment

	searches int
	creates  int

	searchErr   error
	createErr   map[string]error // by unique id
	watcherErr  error
	commentErr  error
	userLookErr error
}

func newMemoryTracker(project string) *memoryTracker {
	return &memoryTracker{
		project:   project,
		users:     make(map[string]jira.User),
		watchers:  make(map[string][]string),
		comments:  make(map[string][]jira.Comment),
		createErr: make(map[string]error),
	}
}

func (m *memoryTracker) Search(_ context.Context, req jira.SearchRequest) (*jira.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++

	if m.searchErr != nil {
		return nil, m.searchErr
	}

	result := &jira.SearchResult{}
	// Newest first.
	for i := len(m.issues) - 1; i >= 0; i-- {
		labels := m.issues[i].Labels
		if len(labels) < 2 {
			continue
		}
		if LookupJQL(m.project, labels[0], labels[1]) == req.JQL {
			result.Total++
			if len(result.Issues) < req.MaxResults {
				result.Issues = append(result.Issues, jira.Issue{Key: m.keys[i]})
			}
		}
	}
	return result, nil
}

func (m *memoryTracker) CreateIssue(_ context.Context, fields jira.IssueFields) (*jira.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++

	if len(fields.Labels) > 1 {
		if err := m.createErr[fields.Labels[1]]; err != nil {
			return nil, err
		}
	}

	key := fmt.Sprintf("%s-%d", m.project, len(m.issues)+1)
	m.issues = append(m.issues, fields)
	m.keys = append(m.keys, key)
	return &jira.Issue{Key: key}, nil
}

func (m *memoryTracker) FindAssignableUsers(_ context.Context, query, _ string, _ int) ([]jira.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userLookErr != nil {
		return nil, m.userLookErr
	}
	if u, ok := m.users[query]; ok {
		return []jira.User{u}, nil
	}
	return nil, nil
}

func (m *memoryTracker) AddWatcher(_ context.Context, key, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcherErr != nil {
		return m.watcherErr
	}
	m.watchers[key] = append(m.watchers[key], user)
	return nil
}

func (m *memoryTracker) AddComment(_ context.Context, key string, c jira.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commentErr != nil {
		return m.commentErr
	}
	m.comments[key] = append(m.comments[key], c)
	return nil
}

func (m *memoryTracker) issueFor(uniqueID string) (jira.IssueFields, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.issues {
		if len(f.Labels) > 1 && f.Labels[1] == uniqueID {
			return f, m.keys[i], true
		}
	}
	return jira.IssueFields{}, "", false
}

// =============================================================================
// Finding source
// =============================================================================

type staticSource struct {
	alerts   []finding.AlertRecord
	prs      []finding.PullRequestRecord
	alertErr error
	prErr    error
}

func (s *staticSource) FetchAlerts(context.Context) ([]finding.AlertRecord, error) {
	return s.alerts, s.alertErr
}

func (s *staticSource) FetchPullRequests(context.Context) ([]finding.PullRequestRecord, error) {
	return s.prs, s.prErr
}

// =============================================================================
// Run locker
// =============================================================================

type stubLocker struct {
	acquireErr error
	acquired   int
	released   int
}

func (l *stubLocker) Acquire(context.Context) (func(context.Context) error, error) {
	if l.acquireErr != nil {
		return nil, l.acquireErr
	}
	l.acquired++
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

// =============================================================================
// Fixtures
// =============================================================================

var errTrackerDown = errors.New("tracker unavailable")

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.GitHub.Repository = "acme/shop"
	cfg.GitHub.Token = "ghp_test"
	cfg.Jira.Host = "https://jira.example.com"
	cfg.Jira.User = "bot"
	cfg.Jira.Token = "secret"
	cfg.Jira.Project = "SEC"
	return &cfg
}

func alertFixture(t *testing.T, pkg, manifest, fix, ghsa string) finding.AlertRecord {
	t.Helper()

	patched := "null"
	if fix != "" {
		patched = fmt.Sprintf(`{"identifier": %q}`, fix)
	}
	raw := fmt.Sprintf(`{
		"securityVulnerability": {
			"advisory": {
				"description": "Vulnerable %[1]s.",
				"identifiers": [{"type": "GHSA", "value": %[4]q}],
				"references": [{"url": "https://github.com/advisories/%[4]s"}],
				"severity": "HIGH"
			},
			"firstPatchedVersion": %[3]s,
			"package": {"name": %[1]q, "ecosystem": "NPM"},
			"severity": "HIGH",
			"vulnerableVersionRange": "< 9.9.9"
		},
		"vulnerableManifestPath": %[2]q
	}`, pkg, manifest, patched, ghsa)

	var rec finding.AlertRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec
}
