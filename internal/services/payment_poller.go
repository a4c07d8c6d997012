package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
)

const (
	defaultPollInterval     = 5 * time.Second
	defaultPollTimeout      = 120 * time.Second
	defaultPollQueryTimeout = 10 * time.Second
	defaultPollMaxAttempts  = 24
	pollInstrumentation     = "github.com/hanko-field/checkout/internal/services/poller"
)

var (
	defaultCancelCodes  = []int{1032}
	defaultFailureCodes = []int{17}

	pollTracer = otel.Tracer(pollInstrumentation)
)

var pollOutcomeMessages = map[domain.PaymentSessionStatus]string{
	domain.PaymentSessionSuccess:   "Payment received.",
	domain.PaymentSessionCancelled: "Payment was cancelled on your phone. You can try again.",
	domain.PaymentSessionFailed:    "Payment could not be completed. Please try again in a moment.",
	domain.PaymentSessionTimeout:   "We did not receive a payment confirmation in time. If you were charged, contact support before retrying.",
	domain.PaymentSessionError:     "Payment confirmation was interrupted.",
}

// PollTicker is the ticking half of PollClock.
type PollTicker interface {
	C() <-chan time.Time
	Stop()
}

// PollTimer is the one-shot half of PollClock.
type PollTimer interface {
	C() <-chan time.Time
	Stop() bool
}

// PollClock supplies time to poll tasks so tests can drive ticks and the deadline.
type PollClock interface {
	Now() time.Time
	NewTicker(d time.Duration) PollTicker
	NewTimer(d time.Duration) PollTimer
}

type systemPollClock struct{}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

type systemTimer struct{ t *time.Timer }

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }

func (systemPollClock) Now() time.Time { return time.Now() }
func (systemPollClock) NewTicker(d time.Duration) PollTicker {
	return systemTicker{t: time.NewTicker(d)}
}
func (systemPollClock) NewTimer(d time.Duration) PollTimer {
	return systemTimer{t: time.NewTimer(d)}
}

// SystemPollClock is the wall clock.
func SystemPollClock() PollClock { return systemPollClock{} }

type statusQuerier interface {
	QueryPush(ctx context.Context, handle string) (payments.PushStatus, error)
}

// PollConfig tunes polling. Zero values take the defaults.
type PollConfig struct {
	Interval     time.Duration
	Timeout      time.Duration
	QueryTimeout time.Duration
	MaxAttempts  int
	CancelCodes  []int
	FailureCodes []int
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultPollTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultPollQueryTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultPollMaxAttempts
	}
	if len(c.CancelCodes) == 0 {
		c.CancelCodes = defaultCancelCodes
	}
	if len(c.FailureCodes) == 0 {
		c.FailureCodes = defaultFailureCodes
	}
	return c
}

// PaymentPollerDeps wires the poller.
type PaymentPollerDeps struct {
	Gateway statusQuerier
	Config  PollConfig
	Clock   PollClock
	Meter   metric.Meter
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// PaymentPoller creates poll tasks bound to a gateway and shared telemetry.
type PaymentPoller struct {
	gateway  statusQuerier
	cfg      PollConfig
	clock    PollClock
	logger   func(ctx context.Context, event string, fields map[string]any)
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
}

// NewPaymentPoller validates dependencies and registers the poll counters.
func NewPaymentPoller(deps PaymentPollerDeps) (*PaymentPoller, error) {
	if deps.Gateway == nil {
		return nil, errors.New("payment poller: gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemPollClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(pollInstrumentation)
	}
	attempts, err := meter.Int64Counter(
		"checkout.payment.poll.attempts",
		metric.WithDescription("Status queries completed by payment poll tasks"),
	)
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter(
		"checkout.payment.poll.outcomes",
		metric.WithDescription("Terminal outcomes of payment poll tasks"),
	)
	if err != nil {
		return nil, err
	}
	return &PaymentPoller{
		gateway:  deps.Gateway,
		cfg:      deps.Config.withDefaults(),
		clock:    clock,
		logger:   logger,
		attempts: attempts,
		outcomes: outcomes,
	}, nil
}

// PollOutcome is the terminal state of a poll task.
type PollOutcome struct {
	Handle         string
	Status         domain.PaymentSessionStatus
	Attempts       int
	LastResultCode *int
	Message        string
	ResolvedAt     time.Time
}

type pollResult struct {
	seq    int
	status payments.PushStatus
	err    error
}

// PollTask polls one payment handle until it resolves. onResolve runs exactly once.
type PollTask struct {
	poller    *PaymentPoller
	handle    string
	onResolve func(PollOutcome)

	mu       sync.Mutex
	started  bool
	status   domain.PaymentSessionStatus
	attempts int
	lastCode *int
	lastSeq  int
	cancel   context.CancelFunc
	outcome  PollOutcome
	done     chan struct{}
}

// NewTask prepares a task for handle. It does nothing until Start.
func (p *PaymentPoller) NewTask(handle string, onResolve func(PollOutcome)) *PollTask {
	if onResolve == nil {
		onResolve = func(PollOutcome) {}
	}
	return &PollTask{
		poller:    p,
		handle:    strings.TrimSpace(handle),
		onResolve: onResolve,
		status:    domain.PaymentSessionPending,
		done:      make(chan struct{}),
	}
}

// Start begins ticking. The ticker and deadline are armed before Start returns.
func (t *PollTask) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started || t.status != domain.PaymentSessionPending {
		t.mu.Unlock()
		return ErrPollTaskStarted
	}
	t.started = true
	ctx, span := pollTracer.Start(ctx, "payment.poll", trace.WithAttributes(
		attribute.String("payment.handle", t.handle),
		attribute.Int("payment.poll.max_attempts", t.poller.cfg.MaxAttempts),
	))
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	ticker := t.poller.clock.NewTicker(t.poller.cfg.Interval)
	timer := t.poller.clock.NewTimer(t.poller.cfg.Timeout)
	go t.run(runCtx, span, ticker, timer)
	return nil
}

// Cancel stops the task. A pending task resolves with ERROR.
func (t *PollTask) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	started := t.started
	t.mu.Unlock()
	if started {
		if cancel != nil {
			cancel()
		}
		return
	}
	t.resolve(context.Background(), domain.PaymentSessionError)
}

// Done is closed once the task resolves.
func (t *PollTask) Done() <-chan struct{} {
	return t.done
}

// Outcome returns the terminal outcome, or false while pending.
func (t *PollTask) Outcome() (PollOutcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == domain.PaymentSessionPending {
		return PollOutcome{}, false
	}
	return t.outcome, true
}

// Handle returns the gateway handle being polled.
func (t *PollTask) Handle() string {
	return t.handle
}

func (t *PollTask) run(ctx context.Context, span trace.Span, ticker PollTicker, timer PollTimer) {
	cfg := t.poller.cfg
	results := make(chan pollResult, cfg.MaxAttempts)
	issued := 0
	var final domain.PaymentSessionStatus

	for final == "" {
		select {
		case <-ctx.Done():
			final = domain.PaymentSessionError
		case <-timer.C():
			final = t.drain(ctx, results)
			if final == "" {
				final = domain.PaymentSessionTimeout
			}
		case <-ticker.C():
			if issued >= cfg.MaxAttempts {
				continue
			}
			issued++
			go t.query(ctx, issued, results)
		case res := <-results:
			final = t.apply(ctx, res)
		}
	}

	ticker.Stop()
	timer.Stop()
	outcome := t.resolve(ctx, final)
	if outcome.Status == domain.PaymentSessionSuccess {
		span.SetStatus(codes.Ok, "")
	} else if outcome.Status != "" {
		span.SetStatus(codes.Error, string(outcome.Status))
	}
	span.SetAttributes(
		attribute.String("payment.poll.status", string(outcome.Status)),
		attribute.Int("payment.poll.attempts", outcome.Attempts),
	)
	span.End()
}

func (t *PollTask) query(ctx context.Context, seq int, results chan<- pollResult) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.poller.cfg.QueryTimeout)
	defer cancel()
	status, err := t.poller.gateway.QueryPush(qctx, t.handle)
	results <- pollResult{seq: seq, status: status, err: err}
}

// drain applies results that were already delivered when the deadline fired, so a
// confirmation that arrived at the same instant is not reported as a timeout.
func (t *PollTask) drain(ctx context.Context, results <-chan pollResult) domain.PaymentSessionStatus {
	for {
		select {
		case res := <-results:
			if status := t.apply(ctx, res); status != "" {
				return status
			}
		default:
			return ""
		}
	}
}

// apply folds one query result into the task and returns the terminal status it implies, if any.
func (t *PollTask) apply(ctx context.Context, res pollResult) domain.PaymentSessionStatus {
	cfg := t.poller.cfg
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != domain.PaymentSessionPending {
		return t.status
	}
	t.attempts++
	t.poller.attempts.Add(ctx, 1)

	if res.err != nil {
		t.poller.logger(ctx, "checkout.payment.poll.query_failed", map[string]any{
			"checkoutRequestId": t.handle,
			"attempt":           t.attempts,
			"error":             res.err.Error(),
		})
	}
	code := res.status.ResultCode
	if res.err == nil && code != nil {
		var terminal domain.PaymentSessionStatus
		switch {
		case *code == 0:
			terminal = domain.PaymentSessionSuccess
		case slices.Contains(cfg.CancelCodes, *code):
			terminal = domain.PaymentSessionCancelled
		case slices.Contains(cfg.FailureCodes, *code):
			terminal = domain.PaymentSessionFailed
		}
		if terminal != "" || res.seq > t.lastSeq {
			value := *code
			t.lastCode = &value
			t.lastSeq = max(t.lastSeq, res.seq)
		}
		if terminal != "" {
			return terminal
		}
	}
	if t.attempts >= cfg.MaxAttempts {
		return domain.PaymentSessionTimeout
	}
	return ""
}

// resolve records the terminal status once and invokes onResolve outside the lock.
func (t *PollTask) resolve(ctx context.Context, status domain.PaymentSessionStatus) PollOutcome {
	t.mu.Lock()
	if t.status != domain.PaymentSessionPending {
		outcome := t.outcome
		t.mu.Unlock()
		return outcome
	}
	t.status = status
	var code *int
	if t.lastCode != nil {
		value := *t.lastCode
		code = &value
	}
	t.outcome = PollOutcome{
		Handle:         t.handle,
		Status:         status,
		Attempts:       t.attempts,
		LastResultCode: code,
		Message:        pollOutcomeMessages[status],
		ResolvedAt:     t.poller.clock.Now().UTC(),
	}
	outcome := t.outcome
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.poller.outcomes.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("status", string(status))))
	fields := map[string]any{
		"checkoutRequestId": t.handle,
		"status":            string(status),
		"attempts":          outcome.Attempts,
	}
	if code != nil {
		fields["resultCode"] = *code
	}
	t.poller.logger(ctx, "checkout.payment.poll.resolved", fields)

	t.onResolve(outcome)
	close(t.done)
	return outcome
}
