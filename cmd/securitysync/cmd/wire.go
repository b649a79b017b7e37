package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/openctemio/securitysync/internal/app"
	"github.com/openctemio/securitysync/internal/config"
	"github.com/openctemio/securitysync/internal/infra/jira"
	"github.com/openctemio/securitysync/internal/infra/redis"
	"github.com/openctemio/securitysync/internal/infra/scm"
	"github.com/openctemio/securitysync/internal/infra/telemetry"
	"github.com/openctemio/securitysync/pkg/logger"
)

// components holds everything a run needs, built once from the configuration.
type components struct {
	github  *scm.GitHubClient
	jira    *jira.Client
	redis   *redis.Client // nil when no lock backend is configured
	sync    *app.SyncService
	cleanup []func(context.Context) error
}

// buildComponents wires the clients and services. Close must be called on the
// result even when an error is returned.
func buildComponents(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...app.SyncServiceOption) (*components, error) {
	c := &components{}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, version, log)
	if err != nil {
		return c, fmt.Errorf("setup tracing: %w", err)
	}
	c.cleanup = append(c.cleanup, shutdownTracing)

	c.github, err = scm.NewGitHubClient(scm.Config{
		APIURL:      cfg.GitHub.APIURL,
		AccessToken: cfg.GitHub.Token,
		Repository:  cfg.GitHub.Repository,
	})
	if err != nil {
		return c, fmt.Errorf("create github client: %w", err)
	}

	c.jira, err = jira.NewClient(jira.Config{
		BaseURL:   cfg.Jira.Host,
		User:      cfg.Jira.User,
		Token:     cfg.Jira.Token,
		RateLimit: cfg.Jira.RateLimit,
		Timeout:   cfg.Jira.Timeout,
	})
	if err != nil {
		return c, fmt.Errorf("create jira client: %w", err)
	}

	if cfg.Redis.IsConfigured() {
		c.redis, err = redis.New(ctx, &cfg.Redis, log)
		if err != nil {
			return c, err
		}
		c.cleanup = append(c.cleanup, func(context.Context) error { return c.redis.Close() })

		lock := redis.NewRunLock(c.redis, cfg.GitHub.Repository, cfg.Jira.Project, cfg.Redis.LockTTL)
		opts = append([]app.SyncServiceOption{app.WithRunLocker(lock)}, opts...)
	}

	tickets := app.NewTicketService(c.jira, cfg, log)
	c.sync = app.NewSyncService(c.github, tickets, cfg, log, opts...)

	return c, nil
}

// Close releases the components in reverse order of creation.
func (c *components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		if err := c.cleanup[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
