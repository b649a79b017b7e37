// Package config loads the operator configuration once at start-up.
//
// Values are resolved in order: built-in defaults, an optional YAML file, then
// environment variables. The environment variable names match the ones used by
// the GitHub Action, so existing workflows keep working.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openctemio/securitysync/pkg/domain/finding"
	"github.com/openctemio/securitysync/pkg/validator"
)

// Default values.
const (
	DefaultGitHubAPIURL    = "https://api.github.com"
	DefaultGitHubServerURL = "https://github.com"
	DefaultIssueType       = "Bug"
	DefaultVisibilityType  = "role"
	DefaultJiraRateLimit   = 5.0
	DefaultJiraTimeout     = 30 * time.Second
	DefaultRunLockTTL      = 10 * time.Minute
	DefaultWatchSchedule   = "@every 1h"
	DefaultWatchListenAddr = ":9090"
	DefaultServiceName     = "securitysync"
)

// Config holds all application configuration.
type Config struct {
	GitHub  GitHubConfig  `yaml:"github"`
	Jira    JiraConfig    `yaml:"jira"`
	Sync    SyncConfig    `yaml:"sync"`
	Redis   RedisConfig   `yaml:"redis"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Watch   WatchConfig   `yaml:"watch"`
	Log     LogConfig     `yaml:"log"`
}

// GitHubConfig holds the source code host connection.
type GitHubConfig struct {
	Repository string `yaml:"repository" validate:"required,repo_full_name"` // owner/name
	Token      string `yaml:"token" validate:"required"`
	APIURL     string `yaml:"api_url" validate:"required,url"`
	ServerURL  string `yaml:"server_url" validate:"required,url"`
}

// JiraConfig holds the tracker connection and ticket settings.
type JiraConfig struct {
	Host      string        `yaml:"host" validate:"required,url"`
	User      string        `yaml:"user" validate:"required"`
	Token     string        `yaml:"token" validate:"required"`
	Project   string        `yaml:"project" validate:"required,project_key"`
	IssueType string        `yaml:"issue_type" validate:"required"`
	RateLimit float64       `yaml:"rate_limit" validate:"gt=0"` // requests per second
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`

	Watchers []string `yaml:"watchers" validate:"dive,email"`
	Labels   []string `yaml:"labels"`

	// Restricted comment, posted only when both group and comment are set.
	RestrictedGroup          string `yaml:"restricted_group"`
	RestrictedComment        string `yaml:"restricted_comment"`
	RestrictedVisibilityType string `yaml:"restricted_visibility_type" validate:"oneof=role group"`
}

// HasRestrictedComment reports whether a restricted comment should be posted.
func (c *JiraConfig) HasRestrictedComment() bool {
	return c.RestrictedGroup != "" && c.RestrictedComment != ""
}

// SyncConfig holds reconciliation behaviour.
type SyncConfig struct {
	DryRun            bool `yaml:"dry_run"`
	SeverityInSummary bool `yaml:"severity_in_summary"`
}

// RedisConfig holds the optional run lock backend.
type RedisConfig struct {
	Addr       string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db" validate:"min=0"`
	TLSEnabled bool          `yaml:"tls_enabled"`
	LockTTL    time.Duration `yaml:"lock_ttl" validate:"gt=0"`
}

// IsConfigured returns true when a Redis address is set.
func (c *RedisConfig) IsConfigured() bool {
	return c.Addr != ""
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // node-exporter textfile written after each run
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// IsConfigured returns true when an OTLP endpoint is set.
func (c *TracingConfig) IsConfigured() bool {
	return c.Endpoint != ""
}

// WatchConfig holds the scheduled mode settings.
type WatchConfig struct {
	Schedule   string `yaml:"schedule" validate:"required"`
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Defaults returns the configuration used before any file or environment
// values are applied.
func Defaults() Config {
	return Config{
		GitHub: GitHubConfig{
			APIURL:    DefaultGitHubAPIURL,
			ServerURL: DefaultGitHubServerURL,
		},
		Jira: JiraConfig{
			IssueType:                DefaultIssueType,
			RateLimit:                DefaultJiraRateLimit,
			Timeout:                  DefaultJiraTimeout,
			RestrictedVisibilityType: DefaultVisibilityType,
		},
		Redis: RedisConfig{
			LockTTL: DefaultRunLockTTL,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultServiceName,
		},
		Watch: WatchConfig{
			Schedule:   DefaultWatchSchedule,
			ListenAddr: DefaultWatchListenAddr,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves the configuration from defaults, the optional YAML file at
// path and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.GitHub.Repository = getEnv("GITHUB_REPOSITORY", c.GitHub.Repository)
	c.GitHub.Token = getEnv("GH_SECURITY_TOKEN", c.GitHub.Token)
	c.GitHub.APIURL = getEnv("GITHUB_API_URL", c.GitHub.APIURL)
	c.GitHub.ServerURL = getEnv("GITHUB_SERVER_URL", c.GitHub.ServerURL)

	c.Jira.Host = getEnv("JIRA_HOST", c.Jira.Host)
	c.Jira.User = getEnv("JIRA_USER", c.Jira.User)
	c.Jira.Token = getEnv("JIRA_TOKEN", c.Jira.Token)
	c.Jira.Project = getEnv("JIRA_PROJECT", c.Jira.Project)
	c.Jira.IssueType = getEnv("JIRA_ISSUE_TYPE", c.Jira.IssueType)
	c.Jira.RateLimit = getEnvFloat("JIRA_RATE_LIMIT", c.Jira.RateLimit)
	c.Jira.Timeout = getEnvDuration("JIRA_TIMEOUT", c.Jira.Timeout)
	c.Jira.Watchers = getEnvSlice("JIRA_WATCHERS", c.Jira.Watchers)
	c.Jira.Labels = getEnvSlice("JIRA_ISSUE_LABELS", c.Jira.Labels)
	c.Jira.RestrictedGroup = getEnv("JIRA_RESTRICTED_GROUP", c.Jira.RestrictedGroup)
	c.Jira.RestrictedComment = getEnv("JIRA_RESTRICTED_COMMENT", c.Jira.RestrictedComment)
	c.Jira.RestrictedVisibilityType = getEnv("JIRA_RESTRICTED_VISIBILITY", c.Jira.RestrictedVisibilityType)

	c.Sync.DryRun = getEnvBool("DRY_RUN", c.Sync.DryRun)
	c.Sync.SeverityInSummary = getEnvBool("TICKET_SEVERITY_IN_SUMMARY", c.Sync.SeverityInSummary)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.TLSEnabled = getEnvBool("REDIS_TLS_ENABLED", c.Redis.TLSEnabled)
	c.Redis.LockTTL = getEnvDuration("RUN_LOCK_TTL", c.Redis.LockTTL)

	c.Metrics.Textfile = getEnv("METRICS_TEXTFILE", c.Metrics.Textfile)

	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Tracing.ServiceName)

	c.Watch.Schedule = getEnv("WATCH_SCHEDULE", c.Watch.Schedule)
	c.Watch.ListenAddr = getEnv("WATCH_LISTEN_ADDR", c.Watch.ListenAddr)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RepositoryOwner returns the owner part of the repository.
func (c *GitHubConfig) RepositoryOwner() string {
	owner, _, _ := strings.Cut(c.Repository, "/")
	return owner
}

// RepositoryName returns the name part of the repository.
func (c *GitHubConfig) RepositoryName() string {
	_, name, _ := strings.Cut(c.Repository, "/")
	return name
}

// RepositoryURL returns the web URL of the repository.
func (c *GitHubConfig) RepositoryURL() string {
	return strings.TrimSuffix(c.ServerURL, "/") + "/" + c.Repository
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if result := finding.ParseLabelList(value); len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
