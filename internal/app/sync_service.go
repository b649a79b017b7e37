package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/securitysync/internal/config"
	"github.com/openctemio/securitysync/internal/metrics"
	"github.com/openctemio/securitysync/pkg/domain/finding"
	"github.com/openctemio/securitysync/pkg/logger"
)

const tracerName = "github.com/openctemio/securitysync/internal/app"

// ErrRunLocked is returned when another run holds the lock for the same
// repository and project.
var ErrRunLocked = errors.New("another run is in progress")

// FindingSource fetches open security findings of the configured repository.
type FindingSource interface {
	FetchAlerts(ctx context.Context) ([]finding.AlertRecord, error)
	FetchPullRequests(ctx context.Context) ([]finding.PullRequestRecord, error)
}

// Tickets looks up and creates tracker tickets.
type Tickets interface {
	FindExisting(ctx context.Context, repoLabel, uniqueID string) (string, bool, error)
	Create(ctx context.Context, f finding.Finding) (TicketRef, error)
}

// RunLocker serializes runs across processes. Acquire returns ErrRunLocked
// when the lock is held elsewhere.
type RunLocker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// NopLocker is the RunLocker used when no lock backend is configured.
type NopLocker struct{}

// Acquire always succeeds.
func (NopLocker) Acquire(context.Context) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// OutcomeReporter receives every outcome as soon as it is decided.
type OutcomeReporter func(Outcome)

// SyncService reconciles the open findings of one repository with the tracker.
type SyncService struct {
	source   FindingSource
	tickets  Tickets
	locker   RunLocker
	reporter OutcomeReporter
	tracer   trace.Tracer

	repository    string
	repositoryURL string
	extraLabels   []string
	dryRun        bool

	logger *logger.Logger
}

// SyncServiceOption is a functional option for SyncService.
type SyncServiceOption func(*SyncService)

// WithRunLocker sets the cross-process run lock.
func WithRunLocker(locker RunLocker) SyncServiceOption {
	return func(s *SyncService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithOutcomeReporter sets a callback invoked for every outcome.
func WithOutcomeReporter(reporter OutcomeReporter) SyncServiceOption {
	return func(s *SyncService) {
		s.reporter = reporter
	}
}

// WithDryRun overrides the configured dry-run setting.
func WithDryRun(dryRun bool) SyncServiceOption {
	return func(s *SyncService) {
		s.dryRun = dryRun
	}
}

// WithTracerProvider sets the tracer provider used for run and finding spans.
func WithTracerProvider(tp trace.TracerProvider) SyncServiceOption {
	return func(s *SyncService) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// NewSyncService creates a new SyncService.
func NewSyncService(source FindingSource, tickets Tickets, cfg *config.Config, log *logger.Logger, opts ...SyncServiceOption) *SyncService {
	s := &SyncService{
		source:        source,
		tickets:       tickets,
		locker:        NopLocker{},
		tracer:        otel.Tracer(tracerName),
		repository:    cfg.GitHub.Repository,
		repositoryURL: cfg.GitHub.RepositoryURL(),
		extraLabels:   cfg.Jira.Labels,
		dryRun:        cfg.Sync.DryRun,
		logger:        log.With("service", "sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one reconciliation pass: alerts first, then pull requests not
// already covered by an alert. The report is always returned. A nil error with
// report.Err() != nil means some creations failed.
func (s *SyncService) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		DryRun:    s.dryRun,
		StartedAt: time.Now(),
	}

	ctx, span := s.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.String("repository", s.repository),
		attribute.Bool("dry_run", s.dryRun),
	))
	defer span.End()

	log := s.logger.With("run_id", report.RunID, "repository", s.repository)
	log.Info("sync started", "dry_run", s.dryRun)

	if err := s.run(ctx, log, report); err != nil {
		report.FinishedAt = time.Now()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRun(metrics.StatusFailed, report.Duration())
		log.WithError(err).Error("sync aborted")
		return report, err
	}
	report.FinishedAt = time.Now()

	status := metrics.StatusSuccess
	if failed := report.Err(); failed != nil {
		status = metrics.StatusFailed
		span.SetStatus(codes.Error, failed.Error())
	}
	metrics.RecordRun(status, report.Duration())

	log.Info("sync finished",
		"covered", report.Count(OutcomeCovered),
		"created", report.Count(OutcomeCreated),
		"would_create", report.Count(OutcomeWouldCreate),
		"failed", report.Count(OutcomeFailed),
		"skipped", report.Skipped,
		"duration", report.Duration(),
	)
	return report, nil
}

func (s *SyncService) run(ctx context.Context, log *logger.Logger, report *Report) error {
	release, err := s.locker.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		// Release with a fresh context so a cancelled run still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			log.Warn("failed to release run lock", "error", err)
		}
	}()

	alerts, err := s.source.FetchAlerts(ctx)
	if err != nil {
		return fmt.Errorf("fetch alerts: %w", err)
	}
	prs, err := s.source.FetchPullRequests(ctx)
	if err != nil {
		return fmt.Errorf("fetch pull requests: %w", err)
	}
	log.Info("fetched findings", "alerts", len(alerts), "pull_requests", len(prs))

	opts := finding.NormalizeOptions{
		Repository:    s.repository,
		RepositoryURL: s.repositoryURL,
		ExtraLabels:   s.extraLabels,
	}
	covered := make(map[string]struct{}, len(alerts)+len(prs))

	for _, alert := range alerts {
		f := alert.Normalize(opts)
		uniqueID := f.UniqueID()
		// Advisories sharing a fix collapse into one ticket.
		if _, ok := covered[uniqueID]; ok {
			log.Debug("alert already covered", "advisory", f.SourceID, "unique_id", uniqueID)
			report.Skipped++
			continue
		}
		covered[uniqueID] = struct{}{}
		if err := s.reconcile(ctx, log, report, f); err != nil {
			return err
		}
	}

	for _, pr := range prs {
		f := pr.Normalize(opts)
		uniqueID := f.UniqueID()
		if misses := pr.Misses(); len(misses) > 0 {
			log.Debug("pull request title not fully parsed",
				"pull_request", pr.Number, "title", pr.Title, "missing", misses)
		}
		if _, ok := covered[uniqueID]; ok {
			log.Debug("pull request already covered", "pull_request", pr.Number, "unique_id", uniqueID)
			report.Skipped++
			continue
		}
		covered[uniqueID] = struct{}{}
		if err := s.reconcile(ctx, log, report, f); err != nil {
			return err
		}
	}

	return nil
}

// reconcile decides and applies the outcome for one finding. Only lookup
// errors are returned; creation errors become a failed outcome.
func (s *SyncService) reconcile(ctx context.Context, log *logger.Logger, report *Report, f finding.Finding) error {
	uniqueID := f.UniqueID()

	ctx, span := s.tracer.Start(ctx, "sync.finding", trace.WithAttributes(
		attribute.String("unique_id", uniqueID),
		attribute.String("source", f.Kind.String()),
	))
	defer span.End()

	key, found, err := s.tickets.FindExisting(ctx, s.repository, uniqueID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return err
	}

	outcome := Outcome{Source: f.Kind, UniqueID: uniqueID}
	switch {
	case found:
		outcome.Kind = OutcomeCovered
		outcome.TicketKey = key
	case s.dryRun:
		outcome.Kind = OutcomeWouldCreate
	default:
		ref, err := s.tickets.Create(ctx, f)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create failed")
			outcome.Kind = OutcomeFailed
			outcome.Reason = err.Error()
		} else {
			outcome.Kind = OutcomeCreated
			outcome.TicketKey = ref.Key
		}
	}
	span.SetAttributes(attribute.String("outcome", outcome.Kind.String()))

	s.record(log, report, outcome)
	return nil
}

func (s *SyncService) record(log *logger.Logger, report *Report, o Outcome) {
	report.Add(o)
	metrics.RecordFinding(o.Source.String(), o.Kind.String())

	attrs := []any{"unique_id", o.UniqueID, "source", o.Source.String(), "outcome", o.Kind.String()}
	if o.TicketKey != "" {
		attrs = append(attrs, "ticket", o.TicketKey)
	}
	if o.Kind == OutcomeFailed {
		log.Error(o.Message(), attrs...)
	} else {
		log.Info(o.Message(), attrs...)
	}

	if s.reporter != nil {
		s.reporter(o)
	}
}
