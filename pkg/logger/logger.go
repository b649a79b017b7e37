// Package logger wraps log/slog with the defaults used across the tool.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// New creates a new Logger writing to cfg.Output, stderr when unset.
// Credentials are masked by key and by well-known token prefixes.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redactAttr,
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewNop creates a logger that discards all output.
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithError returns a new Logger with the error attribute.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Any("error", err))}
}

// SetDefault sets this logger as the default slog logger.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

const redacted = "[REDACTED]"

// sensitiveKeys are attribute key fragments whose values are never logged.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"credential",
}

// tokenPrefixes identify GitHub credentials that leak into free-form values
// such as error messages.
var tokenPrefixes = []string{"ghp_", "gho_", "ghs_", "ghu_", "ghr_", "github_pat_"}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(a.Key, redacted)
		}
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if v, ok := redactTokens(a.Value.String()); ok {
			return slog.String(a.Key, v)
		}
	case slog.KindAny:
		if err, isErr := a.Value.Any().(error); isErr {
			if v, ok := redactTokens(err.Error()); ok {
				return slog.String(a.Key, v)
			}
		}
	}
	return a
}

// redactTokens replaces every whitespace-separated word starting with a
// GitHub token prefix.
func redactTokens(s string) (string, bool) {
	found := false
	for _, p := range tokenPrefixes {
		if strings.Contains(s, p) {
			found = true
			break
		}
	}
	if !found {
		return s, false
	}

	words := strings.Fields(s)
	for i, w := range words {
		for _, p := range tokenPrefixes {
			if strings.HasPrefix(w, p) {
				words[i] = redacted
				break
			}
		}
	}
	return strings.Join(words, " "), true
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
