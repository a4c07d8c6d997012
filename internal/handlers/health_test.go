package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

type stubSystemService struct {
	report domain.HealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeResponse[healthPayload](t, rr.Body.Bytes())
	if body.Status != domain.HealthStatusOK || body.Version != "1.0.0" || body.Environment != "prod" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Uptime != "30s" {
		t.Fatalf("expected uptime 30s, got %s", body.Uptime)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name    string
		svc     *stubSystemService
		status  int
		failing []string
	}{
		{
			name: "ok",
			svc: &stubSystemService{report: domain.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks:      map[string]domain.HealthCheck{"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond}},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded",
			svc: &stubSystemService{report: domain.HealthReport{
				Status:      domain.HealthStatusDegraded,
				GeneratedAt: now,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
					"mpesa":     {Status: domain.HealthStatusError, Detail: "breaker open"},
				},
			}},
			status:  http.StatusServiceUnavailable,
			failing: []string{"mpesa"},
		},
		{
			name:   "report error",
			svc:    &stubSystemService{err: errors.New("boom")},
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(WithHealthSystemService(tc.svc), WithHealthClock(func() time.Time { return now }))
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if tc.svc.err != nil {
				return
			}
			body := decodeResponse[healthPayload](t, rr.Body.Bytes())
			if len(body.Failing) != len(tc.failing) {
				t.Fatalf("expected failing %v, got %v", tc.failing, body.Failing)
			}
			for i := range tc.failing {
				if body.Failing[i] != tc.failing[i] {
					t.Fatalf("expected failing %v, got %v", tc.failing, body.Failing)
				}
			}
		})
	}
}
