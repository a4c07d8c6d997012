package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// Probe is one readiness dependency, e.g. Firestore or the payment gateway breaker.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ProbeOption customises the probe-backed health repository.
type ProbeOption func(*probeHealthRepository)

// WithProbeTimeout overrides the timeout used when a probe sets none.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(repo *probeHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithProbeClock injects a clock for tests.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(repo *probeHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type probeHealthRepository struct {
	probes         []Probe
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*probeHealthRepository)(nil)

// NewProbeHealthRepository validates probes up front so Collect never fails on configuration.
func NewProbeHealthRepository(probes []Probe, opts ...ProbeOption) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(probes))
	for _, probe := range probes {
		name := strings.TrimSpace(probe.Name)
		if name == "" {
			return nil, errors.New("health repository: probe missing name")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("health repository: probe %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate probe %s", name)
		}
		seen[name] = struct{}{}
	}
	repo := &probeHealthRepository{
		probes:         append([]Probe(nil), probes...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// Collect runs every probe in parallel. A failing probe degrades the report; a timed out
// or cancelled probe marks it as error.
func (r *probeHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	checks := make(map[string]domain.HealthCheck, len(r.probes))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, probe := range r.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			result := r.run(ctx, probe)
			mu.Lock()
			checks[strings.TrimSpace(probe.Name)] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, check := range checks {
		if check.Status == domain.HealthStatusError {
			status = domain.HealthStatusError
			break
		}
		if check.Status == domain.HealthStatusDegraded {
			status = domain.HealthStatusDegraded
		}
	}
	return domain.HealthReport{
		Status:      status,
		Checks:      checks,
		GeneratedAt: r.now().UTC(),
	}, nil
}

func (r *probeHealthRepository) run(ctx context.Context, probe Probe) domain.HealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(probeCtx)
	end := r.now()
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}

	check := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end.UTC(),
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		check.Status = domain.HealthStatusError
		check.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		check.Status = domain.HealthStatusError
		check.Detail = "cancelled"
	default:
		check.Status = domain.HealthStatusDegraded
		check.Detail = err.Error()
	}
	return check
}
