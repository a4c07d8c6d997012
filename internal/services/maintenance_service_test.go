package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
)

type stubRecordCleaner struct {
	cleanupFunc func(ctx context.Context, now time.Time, limit int) (int, error)
}

func (s *stubRecordCleaner) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	return s.cleanupFunc(ctx, now, limit)
}

type stubSessionSweeper struct {
	count int
	err   error
}

func (s *stubSessionSweeper) SweepIdle(context.Context) (int, error) {
	return s.count, s.err
}

func TestMaintenanceServiceSweep(t *testing.T) {
	now := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()
	drafts := newStubDraftRepository()
	_ = drafts.Save(ctx, domain.CheckoutDraft{UserID: "user-1", ExpiresAt: now.Add(-time.Minute)})
	_ = drafts.Save(ctx, domain.CheckoutDraft{UserID: "user-2", ExpiresAt: now.Add(-time.Hour)})
	_ = drafts.Save(ctx, domain.CheckoutDraft{UserID: "user-3", ExpiresAt: now.Add(time.Hour)})

	var gotLimit int
	cleaner := &stubRecordCleaner{cleanupFunc: func(ctx context.Context, at time.Time, limit int) (int, error) {
		gotLimit = limit
		return 4, nil
	}}
	fields := map[string]any{}
	svc, err := NewMaintenanceService(MaintenanceServiceDeps{
		Drafts:      drafts,
		Idempotency: cleaner,
		Sessions:    &stubSessionSweeper{count: 1},
		BatchSize:   1,
		Clock:       func() time.Time { return now },
		Logger: func(ctx context.Context, event string, f map[string]any) {
			if event == "maintenance.sweep.completed" {
				fields = f
			}
		},
	})
	if err != nil {
		t.Fatalf("new maintenance service: %v", err)
	}

	report, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.DraftsPurged != 1 || report.IdempotencyPurged != 4 || report.SessionsClosed != 1 || gotLimit != 1 {
		t.Fatalf("unexpected report %+v (limit %d)", report, gotLimit)
	}
	if _, err := drafts.Load(ctx, "user-1"); err == nil {
		t.Fatalf("user-1 draft is expired and must not load")
	}
	if fields["draftsPurged"] != 1 {
		t.Fatalf("unexpected log fields %v", fields)
	}

	report, err = svc.Sweep(ctx)
	if err != nil || report.DraftsPurged != 1 {
		t.Fatalf("second sweep should purge the remaining expired draft, got %+v %v", report, err)
	}
}

func TestMaintenanceServiceJoinsErrors(t *testing.T) {
	cleanupErr := errors.New("firestore unavailable")
	sweepErr := errors.New("context canceled")
	svc, err := NewMaintenanceService(MaintenanceServiceDeps{
		Drafts: newStubDraftRepository(),
		Idempotency: &stubRecordCleaner{cleanupFunc: func(context.Context, time.Time, int) (int, error) {
			return 0, cleanupErr
		}},
		Sessions: &stubSessionSweeper{count: 2, err: sweepErr},
	})
	if err != nil {
		t.Fatalf("new maintenance service: %v", err)
	}
	report, err := svc.Sweep(context.Background())
	if !errors.Is(err, cleanupErr) || !errors.Is(err, sweepErr) {
		t.Fatalf("expected joined errors, got %v", err)
	}
	if report.SessionsClosed != 2 {
		t.Fatalf("later steps still run, got %+v", report)
	}
}

func TestMaintenanceServiceRequiresDrafts(t *testing.T) {
	if _, err := NewMaintenanceService(MaintenanceServiceDeps{}); err == nil {
		t.Fatalf("expected error without draft repository")
	}
}
