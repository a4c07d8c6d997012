package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
)

func TestProbeHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository([]Probe{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "mpesa", Check: func(context.Context) error { return nil }},
	}, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.Checks["firestore"].CheckedAt != now {
		t.Fatalf("expected checkedAt %s, got %s", now, report.Checks["firestore"].CheckedAt)
	}
}

func TestProbeHealthRepositoryDegradedAndTimeout(t *testing.T) {
	repo, err := NewProbeHealthRepository([]Probe{
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
		{Name: "firestore", Timeout: 5 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if got := report.Checks["pubsub"]; got.Status != domain.HealthStatusDegraded || got.Detail != "topic missing" {
		t.Fatalf("unexpected pubsub check %+v", got)
	}
	if got := report.Checks["firestore"]; got.Status != domain.HealthStatusError || got.Detail != "timeout" {
		t.Fatalf("unexpected firestore check %+v", got)
	}
}

func TestNewProbeHealthRepositoryValidation(t *testing.T) {
	if _, err := NewProbeHealthRepository(nil); err == nil {
		t.Fatalf("expected error for empty probes")
	}
	if _, err := NewProbeHealthRepository([]Probe{{Name: "x"}}); err == nil {
		t.Fatalf("expected error for missing check")
	}
	ok := func(context.Context) error { return nil }
	if _, err := NewProbeHealthRepository([]Probe{{Name: "x", Check: ok}, {Name: "x", Check: ok}}); err == nil {
		t.Fatalf("expected error for duplicate probe")
	}
}
