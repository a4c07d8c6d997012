package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
)

const defaultSessionIdleTTL = 2 * time.Hour

// CheckoutServiceDeps wires the checkout service.
type CheckoutServiceDeps struct {
	Orchestrator   CheckoutOrchestratorDeps
	Observers      []CheckoutObserver
	SessionIdleTTL time.Duration
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	deps      CheckoutOrchestratorDeps
	observers []CheckoutObserver
	idleTTL   time.Duration
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)

	mu       sync.Mutex
	sessions map[string]*CheckoutOrchestrator
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	orchestratorDeps, err := deps.Orchestrator.withDefaults()
	if err != nil {
		return nil, err
	}
	clock := deps.Clock
	if clock == nil {
		clock = orchestratorDeps.Clock
	}
	logger := deps.Logger
	if logger == nil {
		logger = orchestratorDeps.Logger
	}
	ttl := deps.SessionIdleTTL
	if ttl <= 0 {
		ttl = defaultSessionIdleTTL
	}
	observers := make([]CheckoutObserver, 0, len(deps.Observers))
	for _, observer := range deps.Observers {
		if observer != nil {
			observers = append(observers, observer)
		}
	}
	return &checkoutService{
		deps:      orchestratorDeps,
		observers: observers,
		idleTTL:   ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		sessions: make(map[string]*CheckoutOrchestrator),
	}, nil
}

// Start opens a checkout for userID. A session with a payment in flight, or with a confirmed
// payment that has no order yet, is returned as is so the order can still be placed with the
// same payment. Any other existing session is replaced.
func (s *checkoutService) Start(ctx context.Context, userID string) (CheckoutSnapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CheckoutSnapshot{}, ErrCheckoutInvalidInput
	}
	if existing := s.lookup(userID); existing != nil && existing.HasPendingPayment() {
		return existing.Snapshot(), nil
	}

	orchestrator, err := NewCheckoutOrchestrator(userID, s.deps)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	for _, observer := range s.observers {
		orchestrator.Subscribe(observer)
	}
	snap, err := orchestrator.Begin(ctx)
	if err != nil {
		s.logger(ctx, "checkout.session.start_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return CheckoutSnapshot{}, err
	}

	s.mu.Lock()
	previous := s.sessions[userID]
	if previous != nil && previous.HasPendingPayment() {
		// Another request started a payment while we were loading.
		s.mu.Unlock()
		return previous.Snapshot(), nil
	}
	s.sessions[userID] = orchestrator
	s.mu.Unlock()

	if previous != nil {
		previous.stop()
	}
	return snap, nil
}

func (s *checkoutService) Snapshot(ctx context.Context, userID string) (CheckoutSnapshot, error) {
	orchestrator, err := s.session(userID)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	return orchestrator.Snapshot(), nil
}

func (s *checkoutService) UpdateForm(ctx context.Context, userID string, patch FormPatch) (CheckoutSnapshot, error) {
	orchestrator, err := s.session(userID)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	return orchestrator.UpdateForm(ctx, patch)
}

func (s *checkoutService) Next(ctx context.Context, userID string) (CheckoutSnapshot, error) {
	orchestrator, err := s.session(userID)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	return orchestrator.Next(ctx)
}

func (s *checkoutService) Back(ctx context.Context, userID string, target *domain.CheckoutStep) (CheckoutSnapshot, error) {
	orchestrator, err := s.session(userID)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	return orchestrator.Back(ctx, target)
}

func (s *checkoutService) PlaceOrder(ctx context.Context, userID string) (CheckoutSnapshot, error) {
	orchestrator, err := s.session(userID)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	return orchestrator.PlaceOrder(ctx)
}

func (s *checkoutService) ClosePaymentDialog(ctx context.Context, userID string) (CheckoutSnapshot, error) {
	orchestrator, err := s.session(userID)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	return orchestrator.ClosePaymentDialog(ctx)
}

func (s *checkoutService) RetryPayment(ctx context.Context, userID string) (CheckoutSnapshot, error) {
	orchestrator, err := s.session(userID)
	if err != nil {
		return CheckoutSnapshot{}, err
	}
	return orchestrator.RetryPayment(ctx)
}

// Abandon closes the shopper's session. Abandoning a missing session is not an error.
func (s *checkoutService) Abandon(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrCheckoutInvalidInput
	}
	s.mu.Lock()
	orchestrator := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if orchestrator == nil {
		return nil
	}
	return orchestrator.Abandon(ctx)
}

func (s *checkoutService) DeliveryAreas(ctx context.Context) []DeliveryAreaGroup {
	return s.deps.Fees.Groups()
}

// SweepIdle abandons sessions idle for longer than the idle TTL. Sessions waiting on a payment,
// or paid without an order, are kept.
func (s *checkoutService) SweepIdle(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.idleTTL)
	var stale []*CheckoutOrchestrator

	s.mu.Lock()
	for userID, orchestrator := range s.sessions {
		if orchestrator.Closed() {
			delete(s.sessions, userID)
			continue
		}
		if orchestrator.HasPendingPayment() || orchestrator.IdleSince().After(cutoff) {
			continue
		}
		delete(s.sessions, userID)
		stale = append(stale, orchestrator)
	}
	s.mu.Unlock()

	var errs []error
	for _, orchestrator := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := orchestrator.Abandon(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(stale) > 0 {
		s.logger(ctx, "checkout.session.swept", map[string]any{"count": len(stale)})
	}
	return len(stale), errors.Join(errs...)
}

// ActiveSessions counts sessions that have not been closed.
func (s *checkoutService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, orchestrator := range s.sessions {
		if !orchestrator.Closed() {
			n++
		}
	}
	return n
}

// Shutdown cancels every poll task. Stored drafts are kept so a confirmed payment can still be reconciled.
func (s *checkoutService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*CheckoutOrchestrator, 0, len(s.sessions))
	for _, orchestrator := range s.sessions {
		sessions = append(sessions, orchestrator)
	}
	s.sessions = make(map[string]*CheckoutOrchestrator)
	s.mu.Unlock()

	for _, orchestrator := range sessions {
		orchestrator.stop()
	}
	s.logger(ctx, "checkout.service.shutdown", map[string]any{"sessions": len(sessions)})
}

func (s *checkoutService) lookup(userID string) *CheckoutOrchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

func (s *checkoutService) session(userID string) (*CheckoutOrchestrator, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrCheckoutInvalidInput
	}
	orchestrator := s.lookup(userID)
	if orchestrator == nil || orchestrator.Closed() {
		return nil, ErrCheckoutSessionNotFound
	}
	return orchestrator, nil
}
