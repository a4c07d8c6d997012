package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

type orderCreator interface {
	CreateOrder(ctx context.Context, submission repositories.OrderSubmission) (domain.Order, error)
}

// OrderFinalizerDeps wires the order finalizer.
type OrderFinalizerDeps struct {
	Orders orderCreator
	Drafts repositories.DraftRepository
	Fees   *DeliveryFeeResolver
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// FinalizeOrderCommand describes one submission. A nil Draft is loaded from the draft store.
type FinalizeOrderCommand struct {
	AttemptID     string
	UserID        string
	Cart          domain.Cart
	Draft         *domain.CheckoutDraft
	PaymentHandle string
}

// OrderFinalizer submits the order at most once per attempt.
type OrderFinalizer struct {
	orders orderCreator
	drafts repositories.DraftRepository
	fees   *DeliveryFeeResolver
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)

	mu       sync.Mutex
	inFlight map[string]struct{}
	placed   map[string]string
}

// NewOrderFinalizer validates dependencies.
func NewOrderFinalizer(deps OrderFinalizerDeps) (*OrderFinalizer, error) {
	if deps.Orders == nil {
		return nil, errors.New("order finalizer: order repository is required")
	}
	if deps.Drafts == nil {
		return nil, errors.New("order finalizer: draft repository is required")
	}
	fees := deps.Fees
	if fees == nil {
		fees = NewDeliveryFeeResolver(nil)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderFinalizer{
		orders: deps.Orders,
		drafts: deps.Drafts,
		fees:   fees,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		inFlight: make(map[string]struct{}),
		placed:   make(map[string]string),
	}, nil
}

// Finalize creates the order. The stored draft is cleared on success and kept on failure.
func (f *OrderFinalizer) Finalize(ctx context.Context, cmd FinalizeOrderCommand) (domain.Order, error) {
	attemptID := strings.TrimSpace(cmd.AttemptID)
	userID := strings.TrimSpace(cmd.UserID)
	if attemptID == "" || userID == "" {
		return domain.Order{}, ErrCheckoutInvalidInput
	}

	f.mu.Lock()
	if _, ok := f.placed[attemptID]; ok {
		f.mu.Unlock()
		return domain.Order{}, ErrCheckoutOrderPlaced
	}
	if _, ok := f.inFlight[attemptID]; ok {
		f.mu.Unlock()
		return domain.Order{}, ErrCheckoutSubmissionInFlight
	}
	f.inFlight[attemptID] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.inFlight, attemptID)
		f.mu.Unlock()
	}()

	draft, err := f.resolveDraft(ctx, userID, cmd.Draft)
	if err != nil {
		return domain.Order{}, err
	}

	form := draft.Form
	fee := f.fees.FeeFor(form.IsPickup, form.DeliveryLocation)
	totals := CalculateTotals(cmd.Cart, fee)
	cartID := strings.TrimSpace(draft.CartID)
	if cartID == "" {
		cartID = cmd.Cart.ID
	}
	handle := strings.TrimSpace(cmd.PaymentHandle)
	paymentStatus := domain.PaymentStatusPending
	if handle != "" {
		paymentStatus = domain.PaymentStatusCompleted
	}
	location := form.DeliveryLocation
	if form.IsPickup {
		location = PickupLocation
	}

	order, err := f.orders.CreateOrder(ctx, repositories.OrderSubmission{
		UserID:           userID,
		CartID:           cartID,
		Shipping:         form.Shipping(),
		IsPickup:         form.IsPickup,
		DeliveryLocation: location,
		Notes:            form.OrderNotes,
		Subtotal:         totals.Subtotal,
		DeliveryFee:      totals.DeliveryFee,
		OrderTotal:       totals.OrderTotal,
		PaymentMethod:    form.PaymentMethod,
		PaymentStatus:    paymentStatus,
		MpesaCheckoutID:  handle,
	})
	if err != nil {
		f.logger(ctx, "checkout.order.create_failed", map[string]any{
			"userId":    userID,
			"attemptId": attemptID,
			"error":     err.Error(),
		})
		var validation *repositories.ValidationError
		if errors.As(err, &validation) {
			return domain.Order{}, &OrderSubmissionError{Fields: cloneFields(validation.Fields), Err: err}
		}
		return domain.Order{}, &OrderSubmissionError{Err: err}
	}

	f.mu.Lock()
	f.placed[attemptID] = order.ID
	f.mu.Unlock()

	if err := f.drafts.Clear(ctx, userID); err != nil && !repositories.IsNotFound(err) {
		f.logger(ctx, "checkout.draft.clear_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
	}
	f.logger(ctx, "checkout.order.created", map[string]any{
		"userId":        userID,
		"orderId":       order.ID,
		"attemptId":     attemptID,
		"paymentMethod": string(form.PaymentMethod),
		"paymentStatus": string(paymentStatus),
		"orderTotal":    totals.OrderTotal.StringFixed(2),
	})
	return order, nil
}

// PlacedOrder reports the order id produced by attemptID, if any.
func (f *OrderFinalizer) PlacedOrder(attemptID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.placed[attemptID]
	return id, ok
}

// Forget drops the bookkeeping for a closed attempt.
func (f *OrderFinalizer) Forget(attemptID string) {
	f.mu.Lock()
	delete(f.placed, attemptID)
	f.mu.Unlock()
}

func (f *OrderFinalizer) resolveDraft(ctx context.Context, userID string, supplied *domain.CheckoutDraft) (domain.CheckoutDraft, error) {
	if supplied != nil {
		return *supplied, nil
	}
	draft, err := f.drafts.Load(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.CheckoutDraft{}, ErrCheckoutDraftMissing
		}
		return domain.CheckoutDraft{}, errors.Join(ErrCheckoutUnavailable, err)
	}
	if draft.Expired(f.now()) {
		return domain.CheckoutDraft{}, ErrCheckoutDraftMissing
	}
	return draft, nil
}
