package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/checkout/internal/repositories"
)

const defaultMaintenanceBatchSize = 200

type expiredRecordCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type idleSessionSweeper interface {
	SweepIdle(ctx context.Context) (int, error)
}

// MaintenanceServiceDeps wires the periodic cleanup job.
type MaintenanceServiceDeps struct {
	Drafts      repositories.DraftRepository
	Idempotency expiredRecordCleaner
	Sessions    idleSessionSweeper
	BatchSize   int
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type maintenanceService struct {
	drafts      repositories.DraftRepository
	idempotency expiredRecordCleaner
	sessions    idleSessionSweeper
	batchSize   int
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewMaintenanceService constructs a MaintenanceService. Idempotency and Sessions are optional.
func NewMaintenanceService(deps MaintenanceServiceDeps) (MaintenanceService, error) {
	if deps.Drafts == nil {
		return nil, errors.New("maintenance service: draft repository is required")
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultMaintenanceBatchSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &maintenanceService{
		drafts:      deps.Drafts,
		idempotency: deps.Idempotency,
		sessions:    deps.Sessions,
		batchSize:   batch,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sweep purges expired drafts and idempotency records and closes idle sessions.
// Every step runs even when an earlier one fails; failures are joined.
func (s *maintenanceService) Sweep(ctx context.Context) (MaintenanceReport, error) {
	start := s.now()
	report := MaintenanceReport{StartedAt: start}
	var errs []error

	purged, err := s.drafts.PurgeExpired(ctx, start, s.batchSize)
	report.DraftsPurged = purged
	if err != nil {
		errs = append(errs, fmt.Errorf("purge drafts: %w", err))
	}
	if s.idempotency != nil {
		cleaned, err := s.idempotency.CleanupExpired(ctx, start, s.batchSize)
		report.IdempotencyPurged = cleaned
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup idempotency: %w", err))
		}
	}
	if s.sessions != nil {
		closed, err := s.sessions.SweepIdle(ctx)
		report.SessionsClosed = closed
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep sessions: %w", err))
		}
	}
	report.Duration = s.now().Sub(start)

	fields := map[string]any{
		"draftsPurged":      report.DraftsPurged,
		"idempotencyPurged": report.IdempotencyPurged,
		"sessionsClosed":    report.SessionsClosed,
		"durationMs":        report.Duration.Milliseconds(),
	}
	joined := errors.Join(errs...)
	if joined != nil {
		fields["error"] = joined.Error()
	}
	s.logger(ctx, "maintenance.sweep.completed", fields)
	return report, joined
}
