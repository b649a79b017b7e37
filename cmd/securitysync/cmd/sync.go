package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/securitysync/internal/app"
	"github.com/openctemio/securitysync/internal/metrics"
	"github.com/openctemio/securitysync/pkg/logger"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass",
	Long: `Fetch the open vulnerability alerts and security update pull requests of the
repository and create a Jira ticket for every finding that has none yet.

With --dry-run the tracker is still searched but nothing is created.
With --check only the GitHub and Jira credentials are verified.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Do not create tickets, only report what would be created (env: DRY_RUN)")
	syncCmd.Flags().Bool("check", false, "Verify GitHub and Jira credentials and exit")
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := initLogger(cfg, cmd.ErrOrStderr())

	var opts []app.SyncServiceOption
	if cmd.Flags().Changed("dry-run") {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		opts = append(opts, app.WithDryRun(dryRun))
	}
	if reporter := outcomePrinter(cmd.OutOrStdout(), cfg.Jira.Project, time.Now); reporter != nil {
		opts = append(opts, app.WithOutcomeReporter(reporter))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := buildComponents(ctx, cfg, log, opts...)
	defer closeComponents(c, log)
	if err != nil {
		return err
	}

	if check, _ := cmd.Flags().GetBool("check"); check {
		return runCheck(ctx, cmd, c)
	}

	report, err := c.sync.Run(ctx)
	if cfg.Metrics.Textfile != "" {
		if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			log.Warn("could not write metrics textfile", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}
	if err != nil {
		return err
	}
	return report.Err()
}

// runCheck verifies both sets of credentials without reconciling.
func runCheck(ctx context.Context, cmd *cobra.Command, c *components) error {
	out := cmd.OutOrStdout()

	login, err := c.github.Viewer(ctx)
	if err != nil {
		return fmt.Errorf("github check failed: %w", err)
	}
	fmt.Fprintf(out, "GitHub: authenticated as %s\n", login)

	user, err := c.jira.Myself(ctx)
	if err != nil {
		return fmt.Errorf("jira check failed: %w", err)
	}
	name := user.DisplayName
	if name == "" {
		name = user.Identifier()
	}
	fmt.Fprintf(out, "Jira:   authenticated as %s\n", name)

	if c.redis != nil {
		if err := c.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis check failed: %w", err)
		}
		fmt.Fprintln(out, "Redis:  reachable")
	}
	return nil
}

func closeComponents(c *components, log *logger.Logger) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
}
