package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openctemio/securitysync/pkg/domain/finding"
)

const alertsQuery = `query alerts($owner: String!, $repo: String!, $first: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    vulnerabilityAlerts(first: $first, after: $cursor, states: OPEN) {
      pageInfo {
        hasNextPage
        endCursor
      }
      nodes {
        securityVulnerability {
          advisory {
            description
            identifiers {
              type
              value
            }
            references {
              url
            }
            severity
            summary
          }
          firstPatchedVersion {
            identifier
          }
          package {
            name
            ecosystem
          }
          severity
          updatedAt
          vulnerableVersionRange
        }
        vulnerableManifestFilename
        vulnerableManifestPath
        vulnerableRequirements
      }
    }
  }
}`

const pullRequestsQuery = `query pullRequests($query: String!, $first: Int!, $cursor: String) {
  search(query: $query, type: ISSUE, first: $first, after: $cursor) {
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      ... on PullRequest {
        number
        title
        url
      }
    }
  }
}`

// dependabotAuthors limits the pull request search to Dependabot.
const dependabotAuthors = "author:app/dependabot author:app/dependabot-preview"

// GitHubClient fetches Dependabot alerts and security pull requests through
// the GitHub GraphQL API.
type GitHubClient struct {
	config     Config
	httpClient *http.Client
	endpoint   string
	owner      string
	repo       string
	maxPages   int
}

// NewGitHubClient creates a new GitHub client
func NewGitHubClient(config Config) (*GitHubClient, error) {
	owner, repo, ok := strings.Cut(config.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, ErrInvalidRepo.Wrap(fmt.Errorf("got %q", config.Repository))
	}
	if config.AccessToken == "" {
		return nil, ErrAuthFailed.Wrap(errors.New("access token is required"))
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxPages := config.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	return &GitHubClient{
		config:     config,
		httpClient: httpClient,
		endpoint:   config.graphQLURL(),
		owner:      owner,
		repo:       repo,
		maxPages:   maxPages,
	}, nil
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// FetchAlerts returns all open vulnerability alerts of the repository.
func (c *GitHubClient) FetchAlerts(ctx context.Context) ([]finding.AlertRecord, error) {
	var alerts []finding.AlertRecord
	var cursor *string

	for page := 0; ; page++ {
		if page == c.maxPages {
			return nil, ErrTruncated.Wrap(fmt.Errorf("vulnerability alerts exceed %d pages of %d", c.maxPages, pageSize))
		}

		var data struct {
			Repository *struct {
				VulnerabilityAlerts struct {
					PageInfo pageInfo              `json:"pageInfo"`
					Nodes    []finding.AlertRecord `json:"nodes"`
				} `json:"vulnerabilityAlerts"`
			} `json:"repository"`
		}

		vars := map[string]any{"owner": c.owner, "repo": c.repo, "first": pageSize, "cursor": cursor}
		if err := c.query(ctx, alertsQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("fetch vulnerability alerts: %w", err)
		}
		if data.Repository == nil {
			return nil, ErrNotFound.Wrap(fmt.Errorf("repository %s", c.config.Repository))
		}

		conn := data.Repository.VulnerabilityAlerts
		alerts = append(alerts, conn.Nodes...)
		if !conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" {
			break
		}
		next := conn.PageInfo.EndCursor
		cursor = &next
	}

	return alerts, nil
}

// FetchPullRequests returns the open Dependabot pull requests labelled
// "security".
func (c *GitHubClient) FetchPullRequests(ctx context.Context) ([]finding.PullRequestRecord, error) {
	search := fmt.Sprintf("type:pr state:open %s repo:%s label:security", dependabotAuthors, c.config.Repository)

	var prs []finding.PullRequestRecord
	var cursor *string

	for page := 0; ; page++ {
		if page == c.maxPages {
			return nil, ErrTruncated.Wrap(fmt.Errorf("pull request search exceeds %d pages of %d", c.maxPages, pageSize))
		}

		var data struct {
			Search struct {
				PageInfo pageInfo                    `json:"pageInfo"`
				Nodes    []finding.PullRequestRecord `json:"nodes"`
			} `json:"search"`
		}

		vars := map[string]any{"query": search, "first": pageSize, "cursor": cursor}
		if err := c.query(ctx, pullRequestsQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("fetch pull requests: %w", err)
		}

		for _, pr := range data.Search.Nodes {
			// Non pull request nodes decode to zero values.
			if pr.Number == 0 && pr.Title == "" {
				continue
			}
			prs = append(prs, pr)
		}
		if !data.Search.PageInfo.HasNextPage || data.Search.PageInfo.EndCursor == "" {
			break
		}
		next := data.Search.PageInfo.EndCursor
		cursor = &next
	}

	return prs, nil
}

// Viewer returns the login of the authenticated user.
func (c *GitHubClient) Viewer(ctx context.Context) (string, error) {
	var data struct {
		Viewer struct {
			Login string `json:"login"`
		} `json:"viewer"`
	}
	if err := c.query(ctx, `query { viewer { login } }`, nil, &data); err != nil {
		return "", err
	}
	return data.Viewer.Login, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// query runs one GraphQL request and decodes its data into out.
func (c *GitHubClient) query(ctx context.Context, q string, vars map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	resp, err := c.doRequest(ctx, payload)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthFailed.Wrap(fmt.Errorf("invalid or expired token"))
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return ErrRateLimited.Wrap(fmt.Errorf("reset at %s", resp.Header.Get("X-RateLimit-Reset")))
	case resp.StatusCode != http.StatusOK:
		return ErrUnexpectedResp.Wrap(fmt.Errorf("status %d", resp.StatusCode))
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return ErrUnexpectedResp.Wrap(fmt.Errorf("decode response: %w", err))
	}

	if len(gqlResp.Errors) > 0 {
		messages := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			messages = append(messages, e.Message)
		}
		return ErrGraphQL.Wrap(errors.New(strings.Join(messages, ", ")))
	}

	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return ErrUnexpectedResp.Wrap(fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func (c *GitHubClient) doRequest(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("User-Agent", defaultUserAgent)

	return c.httpClient.Do(req)
}
