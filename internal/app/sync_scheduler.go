package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/securitysync/pkg/logger"
)

// SyncRunner runs one reconciliation pass.
type SyncRunner interface {
	Run(ctx context.Context) (*Report, error)
}

// SyncSchedulerConfig holds configuration for the scheduler.
type SyncSchedulerConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@every 1h".
	Schedule string

	// RunOnStart triggers one run immediately on Start (default: true via
	// DefaultSyncSchedulerConfig).
	RunOnStart bool

	// RunTimeout bounds a single run (default: 30 minutes)
	RunTimeout time.Duration
}

// DefaultSyncSchedulerConfig returns default configuration.
func DefaultSyncSchedulerConfig() SyncSchedulerConfig {
	return SyncSchedulerConfig{
		Schedule:   "@every 1h",
		RunOnStart: true,
		RunTimeout: 30 * time.Minute,
	}
}

// SyncScheduler runs reconciliation passes on a cron schedule. A tick that
// fires while the previous run is still going is skipped, so runs never
// overlap within the process.
type SyncScheduler struct {
	runner SyncRunner
	config SyncSchedulerConfig
	logger *logger.Logger

	cron *cron.Cron
	job  cron.Job
	wg   sync.WaitGroup

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	runsDone int
}

// NewSyncScheduler creates a new scheduler. The schedule is parsed eagerly so
// an invalid expression fails at construction.
func NewSyncScheduler(runner SyncRunner, cfg SyncSchedulerConfig, log *logger.Logger) (*SyncScheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSyncSchedulerConfig().Schedule
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = DefaultSyncSchedulerConfig().RunTimeout
	}

	s := &SyncScheduler{
		runner: runner,
		config: cfg,
		logger: log.With("component", "sync_scheduler"),
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	// One wrapped job shared by the cron entry and the start-up run, so the
	// skip guard covers both.
	cl := cronLogger{log: s.logger}
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.tick))
	s.cron = cron.New()
	s.cron.Schedule(schedule, s.job)

	return s, nil
}

// Start starts the scheduler.
func (s *SyncScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	if s.config.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.job.Run()
		}()
	}
	s.cron.Start()
	s.logger.Info("sync scheduler started", "schedule", s.config.Schedule)
}

// Stop stops the scheduler, cancels a running pass and waits for it to return.
// Safe to call even if Start was never called.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// Status returns when the last run finished and its error.
func (s *SyncScheduler) Status() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// RunsCompleted returns how many passes have finished.
func (s *SyncScheduler) RunsCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runsDone
}

func (s *SyncScheduler) tick() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, s.config.RunTimeout)
	defer cancel()

	report, err := s.runner.Run(ctx)
	if err == nil && report != nil {
		err = report.Err()
	}

	switch {
	case errors.Is(err, ErrRunLocked):
		s.logger.Info("sync skipped, run lock held elsewhere")
	case err != nil:
		s.logger.WithError(err).Error("scheduled sync failed")
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	s.runsDone++
	s.mu.Unlock()
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
