package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const sessionsCheckName = "checkout_sessions"

// BuildInfo is the release metadata reported on /readyz.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Sessions, when set, adds the live checkout session count to the report.
	Sessions interface{ ActiveSessions() int }
	Clock    func() time.Time
	Build    BuildInfo
}

type systemService struct {
	probes   repositories.HealthRepository
	sessions interface{ ActiveSessions() int }
	now      func() time.Time
	build    BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	build.StartedAt = build.StartedAt.UTC()
	return &systemService{
		probes:   deps.HealthRepository,
		sessions: deps.Sessions,
		now:      func() time.Time { return clock().UTC() },
		build:    build,
	}, nil
}

// HealthReport runs the dependency probes and stamps the result with build metadata.
// Probe results win over build defaults for any field they set.
func (s *systemService) HealthReport(ctx context.Context) (domain.HealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return domain.HealthReport{}, err
	}
	now := s.now()

	report.GeneratedAt = orTime(report.GeneratedAt, now)
	report.Version = orString(report.Version, s.build.Version)
	report.Environment = orString(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Status == "" {
		report.Status = domain.HealthStatusOK
	}
	if report.Checks == nil {
		report.Checks = make(map[string]domain.HealthCheck, 1)
	}
	if s.sessions != nil {
		report.Checks[sessionsCheckName] = domain.HealthCheck{
			Status:    domain.HealthStatusOK,
			Detail:    strconv.Itoa(s.sessions.ActiveSessions()) + " active",
			CheckedAt: now,
		}
	}
	return report, nil
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func orTime(v, fallback time.Time) time.Time {
	if v.IsZero() {
		return fallback
	}
	return v
}
