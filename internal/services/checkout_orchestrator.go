package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

// CheckoutDisplayState is what the shopper should currently be shown.
type CheckoutDisplayState string

const (
	CheckoutDisplayEditing         CheckoutDisplayState = "editing"
	CheckoutDisplayAwaitingPayment CheckoutDisplayState = "awaiting_payment"
	CheckoutDisplayOrderPlaced     CheckoutDisplayState = "order_placed"
)

// CheckoutEventType names orchestrator notifications.
type CheckoutEventType string

const (
	CheckoutEventStepChanged     CheckoutEventType = "step_changed"
	CheckoutEventPaymentStarted  CheckoutEventType = "payment_started"
	CheckoutEventPaymentResolved CheckoutEventType = "payment_resolved"
	CheckoutEventOrderPlaced     CheckoutEventType = "order_placed"
	CheckoutEventOrderFailed     CheckoutEventType = "order_failed"
)

// CheckoutEvent is delivered to observers after the orchestrator lock is released.
type CheckoutEvent struct {
	Type       CheckoutEventType
	UserID     string
	AttemptID  string
	Step       domain.CheckoutStep
	Payment    *domain.PaymentSession
	Order      *domain.Order
	Message    string
	OccurredAt time.Time
}

// CheckoutObserver receives checkout events.
type CheckoutObserver interface {
	OnCheckoutEvent(ctx context.Context, event CheckoutEvent)
}

// CheckoutObserverFunc adapts a function to CheckoutObserver.
type CheckoutObserverFunc func(ctx context.Context, event CheckoutEvent)

// OnCheckoutEvent calls f.
func (f CheckoutObserverFunc) OnCheckoutEvent(ctx context.Context, event CheckoutEvent) {
	f(ctx, event)
}

// FormPatch carries the fields a shopper changed. Nil fields are left alone.
type FormPatch struct {
	FullName         *string
	Email            *string
	PhoneNumber      *string
	Address          *string
	City             *string
	PostalCode       *string
	Country          *string
	IsPickup         *bool
	DeliveryLocation *string
	PaymentMethod    *domain.PaymentMethod
	OrderNotes       *string
}

// CheckoutSnapshot is a consistent copy of the orchestrator state.
type CheckoutSnapshot struct {
	UserID            string
	AttemptID         string
	Step              domain.CheckoutStep
	Cart              domain.Cart
	Form              domain.CheckoutForm
	Totals            domain.Totals
	Display           CheckoutDisplayState
	Submitting        bool
	Payment           *domain.PaymentSession
	PaymentDialogOpen bool
	Order             *domain.Order
	CardPaymentURL    string
	LastError         string
	UpdatedAt         time.Time
}

type cardCheckout interface {
	CreateCheckoutSession(ctx context.Context, method string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CardCheckoutConfig configures hosted card checkout links for card orders.
type CardCheckoutConfig struct {
	Currency   string
	SuccessURL string
	CancelURL  string
}

// CheckoutOrchestratorDeps holds the collaborators shared by every session.
type CheckoutOrchestratorDeps struct {
	Carts        repositories.CartRepository
	Profiles     repositories.ProfileRepository
	Drafts       repositories.DraftRepository
	Initiator    *PaymentInitiator
	Poller       *PaymentPoller
	Finalizer    *OrderFinalizer
	Fees         *DeliveryFeeResolver
	Sanitizer    *DraftSanitizer
	CardCheckout cardCheckout
	Card         CardCheckoutConfig
	IDGenerator  func() string
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

func (d CheckoutOrchestratorDeps) withDefaults() (CheckoutOrchestratorDeps, error) {
	if d.Carts == nil {
		return d, errors.New("checkout orchestrator: cart repository is required")
	}
	if d.Drafts == nil {
		return d, errors.New("checkout orchestrator: draft repository is required")
	}
	if d.Initiator == nil || d.Poller == nil || d.Finalizer == nil {
		return d, errors.New("checkout orchestrator: initiator, poller and finalizer are required")
	}
	if d.Fees == nil {
		d.Fees = NewDeliveryFeeResolver(nil)
	}
	if d.Sanitizer == nil {
		d.Sanitizer = NewDraftSanitizer()
	}
	if d.IDGenerator == nil {
		d.IDGenerator = func() string { return ulid.Make().String() }
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = func(context.Context, string, map[string]any) {}
	}
	if strings.TrimSpace(d.Card.Currency) == "" {
		d.Card.Currency = "KES"
	}
	return d, nil
}

// CheckoutOrchestrator owns one shopper's checkout. All state is guarded by mu;
// gateway and repository calls run with mu released while submitting blocks re-entry.
type CheckoutOrchestrator struct {
	deps      CheckoutOrchestratorDeps
	validator FieldValidator
	userID    string

	mu           sync.Mutex
	steps        *StepSequencer
	cart         domain.Cart
	profile      *domain.Profile
	form         domain.CheckoutForm
	totals       domain.Totals
	paidTotal    decimal.Decimal
	submitting   bool
	lastError    string
	payment      *domain.PaymentSession
	task         *PollTask
	pollCtx      context.Context
	dialogOpen   bool
	attemptID    string
	display      CheckoutDisplayState
	order        *domain.Order
	cardURL      string
	closed       bool
	lastActivity time.Time
	observers    map[int]CheckoutObserver
	nextObserver int
}

// NewCheckoutOrchestrator builds an orchestrator for userID. Call Begin before use.
func NewCheckoutOrchestrator(userID string, deps CheckoutOrchestratorDeps) (*CheckoutOrchestrator, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrCheckoutInvalidInput
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &CheckoutOrchestrator{
		deps:      deps,
		validator: NewFieldValidator(deps.Fees),
		userID:    userID,
		steps:     NewStepSequencer(),
		display:   CheckoutDisplayEditing,
		observers: make(map[int]CheckoutObserver),
	}, nil
}

// Begin loads the cart and profile concurrently and pre-fills the form.
func (o *CheckoutOrchestrator) Begin(ctx context.Context) (CheckoutSnapshot, error) {
	var (
		cart    domain.Cart
		profile *domain.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loaded, err := o.deps.Carts.GetCart(gctx, o.userID)
		if err != nil {
			return errors.Join(ErrCheckoutCartUnavailable, err)
		}
		cart = loaded
		return nil
	})
	if o.deps.Profiles != nil {
		g.Go(func() error {
			loaded, err := o.deps.Profiles.GetProfile(gctx, o.userID)
			if err != nil {
				if !repositories.IsNotFound(err) {
					o.deps.Logger(ctx, "checkout.profile.load_failed", map[string]any{
						"userId": o.userID,
						"error":  err.Error(),
					})
				}
				return nil
			}
			profile = &loaded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CheckoutSnapshot{}, err
	}
	if cart.Empty() {
		return CheckoutSnapshot{}, ErrCheckoutCartEmpty
	}

	o.mu.Lock()
	o.cart = cart
	o.profile = profile
	o.form = prefillForm(profile)
	o.form.DeliveryFee = o.deps.Fees.FeeFor(o.form.IsPickup, o.form.DeliveryLocation)
	o.totals = CalculateTotals(cart, o.form.DeliveryFee)
	o.attemptID = o.deps.IDGenerator()
	o.steps.Reset()
	o.touchLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.deps.Logger(ctx, "checkout.session.started", map[string]any{
		"userId":    o.userID,
		"attemptId": snap.AttemptID,
		"cartId":    cart.ID,
		"items":     len(cart.Items),
	})
	return snap, nil
}

func prefillForm(profile *domain.Profile) domain.CheckoutForm {
	if profile == nil {
		return domain.CheckoutForm{}
	}
	location := strings.TrimSpace(profile.DeliveryLocation)
	return domain.CheckoutForm{
		FullName:         profile.FullName(),
		Email:            strings.TrimSpace(profile.Email),
		PhoneNumber:      strings.TrimSpace(profile.PhoneNumber),
		Address:          strings.TrimSpace(profile.Address),
		City:             strings.TrimSpace(profile.City),
		PostalCode:       strings.TrimSpace(profile.PostalCode),
		Country:          strings.TrimSpace(profile.Country),
		IsPickup:         strings.EqualFold(location, PickupLocation),
		DeliveryLocation: pickupAware(location),
	}
}

func pickupAware(location string) string {
	if strings.EqualFold(location, PickupLocation) {
		return ""
	}
	return location
}

// Snapshot returns the current state.
func (o *CheckoutOrchestrator) Snapshot() CheckoutSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe registers observer and returns a function that removes it.
func (o *CheckoutOrchestrator) Subscribe(observer CheckoutObserver) func() {
	if observer == nil {
		return func() {}
	}
	o.mu.Lock()
	id := o.nextObserver
	o.nextObserver++
	o.observers[id] = observer
	o.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.observers, id)
			o.mu.Unlock()
		})
	}
}

// UpdateForm applies patch and recomputes the delivery fee and totals.
func (o *CheckoutOrchestrator) UpdateForm(ctx context.Context, patch FormPatch) (CheckoutSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.editableLocked(); err != nil {
		return o.snapshotLocked(), err
	}

	form := o.form
	assign := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	assign(&form.FullName, patch.FullName)
	assign(&form.Email, patch.Email)
	assign(&form.PhoneNumber, patch.PhoneNumber)
	assign(&form.Address, patch.Address)
	assign(&form.City, patch.City)
	assign(&form.PostalCode, patch.PostalCode)
	assign(&form.Country, patch.Country)
	assign(&form.OrderNotes, patch.OrderNotes)
	if patch.PaymentMethod != nil {
		form.PaymentMethod = *patch.PaymentMethod
	}
	if patch.DeliveryLocation != nil {
		location := strings.TrimSpace(*patch.DeliveryLocation)
		if strings.EqualFold(location, PickupLocation) {
			form.IsPickup = true
			location = ""
		}
		form.DeliveryLocation = location
	}
	if patch.IsPickup != nil {
		form.IsPickup = *patch.IsPickup
	}
	if form.IsPickup {
		form.DeliveryLocation = ""
		form.DeliveryFee = decimal.Zero
	} else {
		form.DeliveryFee = o.deps.Fees.Fee(form.DeliveryLocation)
	}

	o.form = form
	o.totals = CalculateTotals(o.cart, form.DeliveryFee)
	o.lastError = ""
	o.touchLocked()
	return o.snapshotLocked(), nil
}

// Next validates the current step and advances.
func (o *CheckoutOrchestrator) Next(ctx context.Context) (CheckoutSnapshot, error) {
	o.mu.Lock()
	if err := o.editableLocked(); err != nil {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, err
	}
	from, err := o.steps.Next(o.validator, o.form)
	o.touchLocked()
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			o.lastError = userMessage(err)
		}
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, err
	}
	o.lastError = ""
	snap := o.snapshotLocked()
	observers := o.observerListLocked()
	o.mu.Unlock()

	o.notify(ctx, observers, o.event(CheckoutEventStepChanged, snap))
	o.deps.Logger(ctx, "checkout.step.advanced", map[string]any{
		"userId": o.userID,
		"from":   from.String(),
		"to":     snap.Step.String(),
	})
	return snap, nil
}

// Back moves to target or the previous step without validation.
func (o *CheckoutOrchestrator) Back(ctx context.Context, target *domain.CheckoutStep) (CheckoutSnapshot, error) {
	o.mu.Lock()
	if err := o.editableLocked(); err != nil {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, err
	}
	if _, err := o.steps.Back(target); err != nil {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, err
	}
	o.lastError = ""
	o.touchLocked()
	snap := o.snapshotLocked()
	observers := o.observerListLocked()
	o.mu.Unlock()

	o.notify(ctx, observers, o.event(CheckoutEventStepChanged, snap))
	return snap, nil
}

// PlaceOrder submits the checkout from the review step. Push methods start a payment
// confirmation; other methods create a pending order immediately.
func (o *CheckoutOrchestrator) PlaceOrder(ctx context.Context) (CheckoutSnapshot, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return CheckoutSnapshot{}, ErrCheckoutSessionNotFound
	}
	if o.order != nil {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrCheckoutOrderPlaced
	}
	if o.submitting {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrCheckoutSubmissionInFlight
	}
	if o.steps.Current() != domain.CheckoutStepReview {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrCheckoutNotAtReview
	}
	if o.payment != nil {
		switch {
		case o.payment.Status == domain.PaymentSessionPending:
			snap := o.snapshotLocked()
			o.mu.Unlock()
			return snap, ErrCheckoutPaymentPending
		case o.payment.Status == domain.PaymentSessionSuccess:
			// Paid but not yet recorded: finish with the same handle instead of charging again.
			handle := o.payment.Handle
			o.submitting = true
			o.lastError = ""
			o.touchLocked()
			o.mu.Unlock()
			return o.finalize(ctx, handle, nil)
		}
	}

	form := o.form
	if !form.PaymentMethod.IsPush() {
		for _, step := range []domain.CheckoutStep{domain.CheckoutStepShipping, domain.CheckoutStepPayment} {
			if verr := o.validator.Validate(step, form); verr != nil {
				o.lastError = userMessage(verr)
				snap := o.snapshotLocked()
				o.mu.Unlock()
				return snap, verr
			}
		}
	}
	o.submitting = true
	o.payment = nil
	o.dialogOpen = false
	o.lastError = ""
	o.touchLocked()
	cart := o.cart
	profile := o.profile
	o.mu.Unlock()

	if form.PaymentMethod.IsPush() {
		return o.startPush(ctx, cart, form, profile)
	}
	return o.placeDirect(ctx, cart, form)
}

// ClosePaymentDialog dismisses a failed payment so the shopper can try again.
// It does nothing while the payment is pending or succeeded.
func (o *CheckoutOrchestrator) ClosePaymentDialog(ctx context.Context) (CheckoutSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return CheckoutSnapshot{}, ErrCheckoutSessionNotFound
	}
	if o.payment != nil && o.payment.Status.Failed() {
		o.payment = nil
		o.dialogOpen = false
		o.display = CheckoutDisplayEditing
		o.touchLocked()
	}
	return o.snapshotLocked(), nil
}

// RetryPayment starts a fresh push after a failed one.
func (o *CheckoutOrchestrator) RetryPayment(ctx context.Context) (CheckoutSnapshot, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return CheckoutSnapshot{}, ErrCheckoutSessionNotFound
	}
	if o.order != nil {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrCheckoutOrderPlaced
	}
	if o.submitting {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrCheckoutSubmissionInFlight
	}
	if o.payment == nil || !o.payment.Status.Failed() {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, ErrCheckoutNoFailedPayment
	}
	o.submitting = true
	o.payment = nil
	o.lastError = ""
	o.touchLocked()
	cart := o.cart
	form := o.form
	profile := o.profile
	o.mu.Unlock()

	return o.startPush(ctx, cart, form, profile)
}

// Abandon stops any pending payment check, clears the stored draft and closes the session.
// A confirmed payment without an order keeps its draft for reconciliation.
func (o *CheckoutOrchestrator) Abandon(ctx context.Context) error {
	closed, paidHandle := o.stop()
	if !closed {
		return nil
	}
	if paidHandle != "" {
		o.deps.Logger(ctx, "checkout.payment.needs_reconciliation", map[string]any{
			"userId":        o.userID,
			"paymentHandle": paidHandle,
			"reason":        "session abandoned before the order was recorded",
		})
		return nil
	}
	if err := o.deps.Drafts.Clear(ctx, o.userID); err != nil && !repositories.IsNotFound(err) {
		o.deps.Logger(ctx, "checkout.draft.clear_failed", map[string]any{
			"userId": o.userID,
			"error":  err.Error(),
		})
	}
	o.deps.Logger(ctx, "checkout.session.abandoned", map[string]any{"userId": o.userID})
	return nil
}

// stop closes the session and cancels the poll task. The stored draft is kept.
// It reports whether this call closed the session and, when the payment was confirmed
// but no order exists, the handle of that payment.
func (o *CheckoutOrchestrator) stop() (bool, string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, ""
	}
	o.closed = true
	var paidHandle string
	if o.paidWithoutOrderLocked() {
		paidHandle = o.payment.Handle
	}
	task := o.task
	o.task = nil
	if o.payment != nil && o.payment.Status == domain.PaymentSessionPending {
		o.payment.Status = domain.PaymentSessionError
		o.payment.Message = pollOutcomeMessages[domain.PaymentSessionError]
		o.payment.ResolvedAt = o.now()
	}
	o.dialogOpen = false
	attemptID := o.attemptID
	o.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	if paidHandle == "" {
		o.deps.Finalizer.Forget(attemptID)
	}
	return true, paidHandle
}

// HasPendingPayment reports whether the session holds money in flight: a push still
// awaiting confirmation, or a confirmed payment whose order was not recorded yet.
func (o *CheckoutOrchestrator) HasPendingPayment() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submitting || o.paidWithoutOrderLocked() ||
		(o.payment != nil && o.payment.Status == domain.PaymentSessionPending)
}

func (o *CheckoutOrchestrator) paidWithoutOrderLocked() bool {
	return o.order == nil && o.payment != nil && o.payment.Status == domain.PaymentSessionSuccess
}

// IdleSince reports the last shopper interaction.
func (o *CheckoutOrchestrator) IdleSince() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastActivity
}

// Closed reports whether the session was abandoned.
func (o *CheckoutOrchestrator) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *CheckoutOrchestrator) startPush(ctx context.Context, cart domain.Cart, form domain.CheckoutForm, profile *domain.Profile) (CheckoutSnapshot, error) {
	result, err := o.deps.Initiator.Initiate(ctx, InitiatePaymentCommand{
		UserID:  o.userID,
		Cart:    cart,
		Form:    form,
		Profile: profile,
	})

	o.mu.Lock()
	o.submitting = false
	if err != nil {
		o.lastError = userMessage(err)
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, err
	}
	if o.closed {
		o.mu.Unlock()
		return CheckoutSnapshot{}, ErrCheckoutSessionNotFound
	}
	session := result.Session
	o.payment = &session
	o.totals = result.Totals
	o.paidTotal = result.Totals.OrderTotal
	o.dialogOpen = true
	o.display = CheckoutDisplayAwaitingPayment
	o.pollCtx = context.WithoutCancel(ctx)
	task := o.deps.Poller.NewTask(session.Handle, o.onPollResolved)
	o.task = task
	snap := o.snapshotLocked()
	observers := o.observerListLocked()
	pollCtx := o.pollCtx
	o.mu.Unlock()

	o.notify(ctx, observers, o.event(CheckoutEventPaymentStarted, snap))
	if err := task.Start(pollCtx); err != nil {
		o.deps.Logger(ctx, "checkout.payment.poll_start_failed", map[string]any{
			"userId": o.userID,
			"error":  err.Error(),
		})
	}
	return snap, nil
}

func (o *CheckoutOrchestrator) onPollResolved(outcome PollOutcome) {
	o.mu.Lock()
	if o.task == nil || o.task.Handle() != outcome.Handle || o.payment == nil ||
		o.payment.Handle != outcome.Handle || o.payment.Status != domain.PaymentSessionPending {
		o.mu.Unlock()
		return
	}
	o.task = nil
	o.payment.Status = outcome.Status
	o.payment.Attempts = outcome.Attempts
	o.payment.LastResultCode = outcome.LastResultCode
	o.payment.Message = outcome.Message
	o.payment.ResolvedAt = outcome.ResolvedAt
	ctx := o.pollCtx
	if ctx == nil {
		ctx = context.Background()
	}
	success := outcome.Status == domain.PaymentSessionSuccess
	if success {
		o.submitting = true
	} else {
		o.display = CheckoutDisplayEditing
		o.lastError = outcome.Message
	}
	snap := o.snapshotLocked()
	observers := o.observerListLocked()
	o.mu.Unlock()

	o.notify(ctx, observers, o.event(CheckoutEventPaymentResolved, snap))
	if success {
		_, _ = o.finalize(ctx, outcome.Handle, nil)
	}
}

func (o *CheckoutOrchestrator) placeDirect(ctx context.Context, cart domain.Cart, form domain.CheckoutForm) (CheckoutSnapshot, error) {
	now := o.now()
	draft := domain.CheckoutDraft{
		UserID:  o.userID,
		CartID:  cart.ID,
		Form:    o.deps.Sanitizer.Form(form),
		SavedAt: now,
	}
	snap, err := o.finalize(ctx, "", &draft)
	if err != nil || form.PaymentMethod != domain.PaymentMethodCreditCard || o.deps.CardCheckout == nil || snap.Order == nil {
		return snap, err
	}

	session, err := o.deps.CardCheckout.CreateCheckoutSession(ctx, string(form.PaymentMethod), o.cardSessionRequest(*snap.Order, cart, draft.Form))
	if err != nil {
		o.deps.Logger(ctx, "checkout.card_session_failed", map[string]any{
			"userId":  o.userID,
			"orderId": snap.Order.ID,
			"error":   err.Error(),
		})
		return snap, nil
	}
	o.mu.Lock()
	o.cardURL = session.RedirectURL
	snap = o.snapshotLocked()
	o.mu.Unlock()
	return snap, nil
}

func (o *CheckoutOrchestrator) cardSessionRequest(order domain.Order, cart domain.Cart, form domain.CheckoutForm) payments.CheckoutSessionRequest {
	hundred := decimal.NewFromInt(100)
	currency := o.deps.Card.Currency
	items := make([]payments.CheckoutLineItem, 0, len(cart.Items)+1)
	for _, item := range cart.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice().Mul(hundred).Round(0).IntPart(),
			Currency: currency,
		})
	}
	if order.Totals.DeliveryFee.IsPositive() {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Delivery",
			Quantity: 1,
			Amount:   order.Totals.DeliveryFee.Mul(hundred).Round(0).IntPart(),
			Currency: currency,
		})
	}
	return payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		CustomerEmail:  form.Email,
		Currency:       currency,
		SuccessURL:     strings.ReplaceAll(o.deps.Card.SuccessURL, "{ORDER_ID}", order.ID),
		CancelURL:      strings.ReplaceAll(o.deps.Card.CancelURL, "{ORDER_ID}", order.ID),
		IdempotencyKey: "order-" + order.ID,
		Metadata:       map[string]string{"userId": o.userID},
		Items:          items,
	}
}

// finalize runs the order finalizer with submitting already set and applies the result.
func (o *CheckoutOrchestrator) finalize(ctx context.Context, handle string, draft *domain.CheckoutDraft) (CheckoutSnapshot, error) {
	o.mu.Lock()
	cart := o.cart
	attemptID := o.attemptID
	o.mu.Unlock()

	var (
		order domain.Order
		err   error
	)
	if handle != "" {
		cart, err = o.paidCart(ctx, handle, cart)
	}
	if err == nil {
		order, err = o.deps.Finalizer.Finalize(ctx, FinalizeOrderCommand{
			AttemptID:     attemptID,
			UserID:        o.userID,
			Cart:          cart,
			Draft:         draft,
			PaymentHandle: handle,
		})
	}

	o.mu.Lock()
	o.submitting = false
	if err != nil {
		o.lastError = userMessage(err)
		if o.display == CheckoutDisplayAwaitingPayment {
			o.display = CheckoutDisplayEditing
		}
		snap := o.snapshotLocked()
		observers := o.observerListLocked()
		o.mu.Unlock()
		event := o.event(CheckoutEventOrderFailed, snap)
		event.Message = err.Error()
		o.notify(ctx, observers, event)
		return snap, err
	}
	o.order = &order
	o.display = CheckoutDisplayOrderPlaced
	o.dialogOpen = false
	o.lastError = ""
	o.touchLocked()
	snap := o.snapshotLocked()
	observers := o.observerListLocked()
	o.mu.Unlock()

	o.notify(ctx, observers, o.event(CheckoutEventOrderPlaced, snap))
	return snap, nil
}

// paidCart re-reads the cart before a confirmed push payment is recorded. The order
// store rejects a cart that changed while the payment was being confirmed, so the order
// is built from the stored cart and any difference from the amount paid is logged for
// reconciliation. An unreadable cart falls back to the one captured at push time.
func (o *CheckoutOrchestrator) paidCart(ctx context.Context, handle string, cached domain.Cart) (domain.Cart, error) {
	fresh, err := o.deps.Carts.GetCart(ctx, o.userID)
	if err != nil {
		o.deps.Logger(ctx, "checkout.payment.cart_reload_failed", map[string]any{
			"userId":        o.userID,
			"paymentHandle": handle,
			"error":         err.Error(),
		})
		return cached, nil
	}
	if fresh.Empty() {
		o.deps.Logger(ctx, "checkout.payment.needs_reconciliation", map[string]any{
			"userId":        o.userID,
			"paymentHandle": handle,
			"reason":        "cart emptied after payment",
		})
		return domain.Cart{}, ErrCheckoutCartEmpty
	}

	o.mu.Lock()
	o.cart = fresh
	o.totals = CalculateTotals(fresh, o.totals.DeliveryFee)
	orderTotal := o.totals.OrderTotal
	paid := o.paidTotal
	o.mu.Unlock()

	if !orderTotal.Equal(paid) {
		o.deps.Logger(ctx, "checkout.payment.amount_mismatch", map[string]any{
			"userId":        o.userID,
			"paymentHandle": handle,
			"paidTotal":     paid.StringFixed(2),
			"orderTotal":    orderTotal.StringFixed(2),
		})
	}
	return fresh, nil
}

func (o *CheckoutOrchestrator) editableLocked() error {
	switch {
	case o.closed:
		return ErrCheckoutSessionNotFound
	case o.order != nil:
		return ErrCheckoutOrderPlaced
	case o.submitting:
		return ErrCheckoutSubmissionInFlight
	case o.payment != nil && (o.payment.Status == domain.PaymentSessionPending || o.payment.Status == domain.PaymentSessionSuccess):
		return ErrCheckoutPaymentPending
	}
	return nil
}

func (o *CheckoutOrchestrator) snapshotLocked() CheckoutSnapshot {
	snap := CheckoutSnapshot{
		UserID:            o.userID,
		AttemptID:         o.attemptID,
		Step:              o.steps.Current(),
		Cart:              o.cart,
		Form:              o.form,
		Totals:            o.totals,
		Display:           o.display,
		Submitting:        o.submitting,
		PaymentDialogOpen: o.dialogOpen,
		CardPaymentURL:    o.cardURL,
		LastError:         o.lastError,
		UpdatedAt:         o.lastActivity,
	}
	snap.Cart.Items = append([]domain.CartItem(nil), o.cart.Items...)
	if o.payment != nil {
		payment := *o.payment
		snap.Payment = &payment
	}
	if o.order != nil {
		order := *o.order
		snap.Order = &order
	}
	return snap
}

func (o *CheckoutOrchestrator) observerListLocked() []CheckoutObserver {
	if len(o.observers) == 0 {
		return nil
	}
	out := make([]CheckoutObserver, 0, len(o.observers))
	for _, observer := range o.observers {
		out = append(out, observer)
	}
	return out
}

func (o *CheckoutOrchestrator) event(kind CheckoutEventType, snap CheckoutSnapshot) CheckoutEvent {
	return CheckoutEvent{
		Type:       kind,
		UserID:     snap.UserID,
		AttemptID:  snap.AttemptID,
		Step:       snap.Step,
		Payment:    snap.Payment,
		Order:      snap.Order,
		Message:    snap.LastError,
		OccurredAt: o.now(),
	}
}

func (o *CheckoutOrchestrator) notify(ctx context.Context, observers []CheckoutObserver, event CheckoutEvent) {
	for _, observer := range observers {
		observer.OnCheckoutEvent(ctx, event)
	}
}

func (o *CheckoutOrchestrator) touchLocked() {
	o.lastActivity = o.now()
}

func (o *CheckoutOrchestrator) now() time.Time {
	return o.deps.Clock().UTC()
}

// userMessage turns a checkout error into the text shown next to the form.
func userMessage(err error) string {
	var (
		validation *ValidationError
		missing    *MissingFieldsError
		rejected   *GatewayRejectedError
		submission *OrderSubmissionError
	)
	switch {
	case errors.As(err, &validation):
		return "Please complete the highlighted fields."
	case errors.As(err, &missing):
		return fmt.Sprintf("Please provide: %s.", strings.Join(missing.Fields, ", "))
	case errors.As(err, &rejected):
		return rejected.Message
	case errors.As(err, &submission):
		return "We could not place your order. Please review your details and try again."
	case errors.Is(err, ErrCheckoutDraftMissing):
		return "Your checkout details expired. Please review them and place the order again."
	case errors.Is(err, ErrCheckoutOrderPlaced):
		return "This order has already been placed."
	case errors.Is(err, ErrCheckoutCartEmpty):
		return "Your cart is empty. If you were charged, please contact support."
	}
	return "Something went wrong. Please try again."
}
