package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/securitysync/internal/app"
	infrahttp "github.com/openctemio/securitysync/internal/infra/http"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run reconciliation passes on a schedule",
	Long: `Run a reconciliation pass immediately and then on a cron schedule, serving
/health, /ready and /metrics until SIGINT or SIGTERM.

A tick that fires while a pass is still running is skipped.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("schedule", "", "Cron expression or descriptor, e.g. \"@every 1h\" (env: WATCH_SCHEDULE)")
	watchCmd.Flags().String("listen", "", "Address for the health and metrics server, empty to disable (env: WATCH_LISTEN_ADDR)")
	watchCmd.Flags().Bool("dry-run", false, "Do not create tickets (env: DRY_RUN)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("schedule") {
		cfg.Watch.Schedule, _ = cmd.Flags().GetString("schedule")
	}
	if cmd.Flags().Changed("listen") {
		cfg.Watch.ListenAddr, _ = cmd.Flags().GetString("listen")
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

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, cfg, log, opts...)
	defer closeComponents(c, log)
	if err != nil {
		return err
	}

	schedCfg := app.DefaultSyncSchedulerConfig()
	schedCfg.Schedule = cfg.Watch.Schedule
	scheduler, err := app.NewSyncScheduler(c.sync, schedCfg, log)
	if err != nil {
		return err
	}

	var server *infrahttp.Server
	serverErr := make(chan error, 1)
	if cfg.Watch.ListenAddr != "" {
		healthOpts := []infrahttp.HealthHandlerOption{infrahttp.WithRunStatus(scheduler)}
		if c.redis != nil {
			healthOpts = append(healthOpts, infrahttp.WithRedis(c.redis))
		}
		server = infrahttp.NewServer(cfg.Watch.ListenAddr, infrahttp.NewHealthHandler(healthOpts...), log)
		go func() {
			serverErr <- server.Start()
		}()
	}

	scheduler.Start(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-serverErr:
		log.Error("http server failed", "error", runErr)
	}

	scheduler.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}
