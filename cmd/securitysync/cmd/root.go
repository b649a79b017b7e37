// Package cmd implements the securitysync command line.
package cmd

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/securitysync/internal/app"
	"github.com/openctemio/securitysync/internal/config"
	"github.com/openctemio/securitysync/pkg/logger"
)

// outputTimeFormat matches ISO 8601 with a numeric zone, e.g. 2026-01-02T03:04:05+0000.
const outputTimeFormat = "2006-01-02T15:04:05-0700"

var (
	version string

	// Global flags
	flagConfig   string
	flagVerbose  bool
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "securitysync",
	Short: "Sync GitHub security alerts to Jira",
	Long: `securitysync reads the open Dependabot vulnerability alerts and security
update pull requests of a GitHub repository and makes sure every distinct
finding has exactly one Jira ticket.

Configuration is read from an optional YAML file and the environment
(GITHUB_REPOSITORY, GH_SECURITY_TOKEN, JIRA_HOST, JIRA_USER, JIRA_TOKEN,
JIRA_PROJECT, ...). Environment values win over the file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a YAML config file (env values override it)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print one line per finding outcome")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level: debug, info, warn, error (env: LOG_LEVEL)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "securitysync version %s\n", version)
		fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// loadConfig resolves the configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, nil
}

func initLogger(cfg *config.Config, w io.Writer) *logger.Logger {
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: w,
	})
	log.SetDefault()
	return log
}

// outcomePrinter writes outcomes in the "{timestamp} - {project} - {message}"
// form when verbose output is on.
func outcomePrinter(w io.Writer, project string, now func() time.Time) app.OutcomeReporter {
	if !flagVerbose {
		return nil
	}
	return func(o app.Outcome) {
		fmt.Fprintf(w, "%s - %s - %s\n", now().UTC().Format(outputTimeFormat), project, o.Message())
	}
}
