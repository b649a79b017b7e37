package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openctemio/securitysync/internal/config"
	"github.com/openctemio/securitysync/internal/infra/jira"
	"github.com/openctemio/securitysync/pkg/domain/finding"
	"github.com/openctemio/securitysync/pkg/logger"
)

// ErrWatcherNotFound is returned when a watcher email matches no tracker user.
var ErrWatcherNotFound = errors.New("no tracker user found for watcher")

// TrackerClient is the subset of the Jira API the ticket service uses.
type TrackerClient interface {
	Search(ctx context.Context, req jira.SearchRequest) (*jira.SearchResult, error)
	CreateIssue(ctx context.Context, fields jira.IssueFields) (*jira.Issue, error)
	FindAssignableUsers(ctx context.Context, query, project string, maxResults int) ([]jira.User, error)
	AddWatcher(ctx context.Context, issueKey, userIdentifier string) error
	AddComment(ctx context.Context, issueKey string, comment jira.Comment) error
}

// TicketRef identifies the ticket covering a unique id.
type TicketRef struct {
	Key      string
	UniqueID string
}

// TicketService looks up and creates tracker tickets for findings.
type TicketService struct {
	tracker TrackerClient
	jira    config.JiraConfig
	sync    config.SyncConfig
	logger  *logger.Logger
}

// NewTicketService creates a new TicketService.
func NewTicketService(tracker TrackerClient, cfg *config.Config, log *logger.Logger) *TicketService {
	return &TicketService{
		tracker: tracker,
		jira:    cfg.Jira,
		sync:    cfg.Sync,
		logger:  log.With("service", "ticket"),
	}
}

// FindExisting returns the key of the most recently created ticket in the
// project labelled with both repoLabel and uniqueID.
// Errors are returned as-is: a failed lookup must never read as "not found".
func (s *TicketService) FindExisting(ctx context.Context, repoLabel, uniqueID string) (string, bool, error) {
	result, err := s.tracker.Search(ctx, jira.SearchRequest{
		JQL:        LookupJQL(s.jira.Project, repoLabel, uniqueID),
		MaxResults: 1,
		Fields:     []string{"key"},
	})
	if err != nil {
		return "", false, fmt.Errorf("search tickets for %s: %w", uniqueID, err)
	}
	if len(result.Issues) == 0 {
		return "", false, nil
	}
	return result.Issues[0].Key, true, nil
}

// Create creates the ticket for a finding. Watchers and the restricted comment
// are attached afterwards on a best-effort basis: their failures are logged and
// never fail the creation.
func (s *TicketService) Create(ctx context.Context, f finding.Finding) (TicketRef, error) {
	uniqueID := f.UniqueID()

	issue, err := s.tracker.CreateIssue(ctx, jira.IssueFields{
		Project:     jira.ProjectRef{Key: s.jira.Project},
		Summary:     f.Summary(s.sync.SeverityInSummary),
		Description: f.Body(),
		IssueType:   jira.IssueTypeRef{Name: s.jira.IssueType},
		Labels:      f.Labels(),
	})
	if err != nil {
		return TicketRef{}, fmt.Errorf("create ticket for %s: %w", uniqueID, err)
	}

	ref := TicketRef{Key: issue.Key, UniqueID: uniqueID}
	log := s.logger.With("ticket", ref.Key, "unique_id", uniqueID)

	watchers, err := s.resolveWatchers(ctx)
	if err != nil {
		log.Warn("could not resolve all watchers", "error", err)
	}
	if err := s.attachWatchers(ctx, ref.Key, watchers); err != nil {
		log.Warn("could not add watchers", "error", err)
	}
	if err := s.postRestrictedComment(ctx, ref.Key, watchers); err != nil {
		log.Warn("could not add restricted comment", "error", err)
	}

	return ref, nil
}

// resolveWatchers maps the configured watcher emails to tracker users. Users
// that resolve are returned even when others fail.
func (s *TicketService) resolveWatchers(ctx context.Context) ([]jira.User, error) {
	users := make([]jira.User, 0, len(s.jira.Watchers))
	var errs []error

	for _, email := range s.jira.Watchers {
		found, err := s.tracker.FindAssignableUsers(ctx, email, s.jira.Project, 1)
		if err != nil {
			errs = append(errs, fmt.Errorf("look up watcher %s: %w", email, err))
			continue
		}
		if len(found) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrWatcherNotFound, email))
			continue
		}
		users = append(users, found[len(found)-1])
	}

	return users, errors.Join(errs...)
}

// attachWatchers adds every resolved user as watcher of the ticket.
func (s *TicketService) attachWatchers(ctx context.Context, key string, users []jira.User) error {
	var errs []error
	for _, u := range users {
		if err := s.tracker.AddWatcher(ctx, key, u.Identifier()); err != nil {
			errs = append(errs, fmt.Errorf("add watcher %s: %w", u.Identifier(), err))
		}
	}
	return errors.Join(errs...)
}

// postRestrictedComment posts the configured comment, visible only to the
// configured role or group, mentioning the resolved watchers.
func (s *TicketService) postRestrictedComment(ctx context.Context, key string, users []jira.User) error {
	if !s.jira.HasRestrictedComment() {
		return nil
	}

	return s.tracker.AddComment(ctx, key, jira.Comment{
		Body: RestrictedCommentBody(s.jira.RestrictedComment, users),
		Visibility: &jira.Visibility{
			Type:  s.jira.RestrictedVisibilityType,
			Value: s.jira.RestrictedGroup,
		},
	})
}

// RestrictedCommentBody appends the watcher mentions to the comment template.
func RestrictedCommentBody(template string, watchers []jira.User) string {
	if len(watchers) == 0 {
		return template
	}
	mentions := make([]string, 0, len(watchers))
	for _, u := range watchers {
		mentions = append(mentions, u.Mention())
	}
	return template + "\nWatchers: " + strings.Join(mentions, ", ") + "."
}

// LookupJQL builds the query matching tickets in project carrying every label,
// newest first.
func LookupJQL(project string, labels ...string) string {
	clauses := make([]string, 0, len(labels)+1)
	clauses = append(clauses, "project = "+quoteJQL(project))
	for _, l := range labels {
		clauses = append(clauses, "labels IN ("+quoteJQL(l)+")")
	}
	return strings.Join(clauses, " AND ") + " ORDER BY created DESC"
}

func quoteJQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
