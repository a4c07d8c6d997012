package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
	"github.com/hanko-field/checkout/internal/repositories/memory"
)

type stubCartRepository struct {
	getFunc func(ctx context.Context, userID string) (domain.Cart, error)
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	return s.getFunc(ctx, userID)
}

type stubProfileRepository struct {
	getFunc func(ctx context.Context, userID string) (domain.Profile, error)
}

func (s *stubProfileRepository) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	return s.getFunc(ctx, userID)
}

type stubOrderRepository struct {
	mu         sync.Mutex
	createFunc func(ctx context.Context, submission repositories.OrderSubmission) (domain.Order, error)
	getFunc    func(ctx context.Context, userID, orderID string) (domain.Order, error)
	listFunc   func(ctx context.Context, filter repositories.OrderListFilter) (repositories.OrderPage, error)
	created    []repositories.OrderSubmission
	// createErrs fail the next CreateOrder calls in order.
	createErrs []error
}

func (s *stubOrderRepository) CreateOrder(ctx context.Context, submission repositories.OrderSubmission) (domain.Order, error) {
	s.mu.Lock()
	s.created = append(s.created, submission)
	var failure error
	if len(s.createErrs) > 0 {
		failure, s.createErrs = s.createErrs[0], s.createErrs[1:]
	}
	s.mu.Unlock()
	if failure != nil {
		return domain.Order{}, failure
	}
	if s.createFunc != nil {
		return s.createFunc(ctx, submission)
	}
	return domain.Order{
		ID:               "ord_1",
		UserID:           submission.UserID,
		CartID:           submission.CartID,
		Shipping:         submission.Shipping,
		DeliveryLocation: submission.DeliveryLocation,
		Totals: domain.Totals{
			Subtotal:    submission.Subtotal,
			DeliveryFee: submission.DeliveryFee,
			OrderTotal:  submission.OrderTotal,
		},
		PaymentMethod:   submission.PaymentMethod,
		PaymentStatus:   submission.PaymentStatus,
		Status:          domain.OrderStatusPending,
		MpesaCheckoutID: submission.MpesaCheckoutID,
	}, nil
}

func (s *stubOrderRepository) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	return s.getFunc(ctx, userID, orderID)
}

func (s *stubOrderRepository) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (repositories.OrderPage, error) {
	return s.listFunc(ctx, filter)
}

func (s *stubOrderRepository) submissions() []repositories.OrderSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repositories.OrderSubmission(nil), s.created...)
}

type stubDraftRepository struct {
	*memory.DraftRepository
	saveErr  error
	clearErr error
}

func newStubDraftRepository() *stubDraftRepository {
	return &stubDraftRepository{DraftRepository: memory.NewDraftRepository(nil)}
}

func (s *stubDraftRepository) Save(ctx context.Context, draft domain.CheckoutDraft) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.DraftRepository.Save(ctx, draft)
}

func (s *stubDraftRepository) Clear(ctx context.Context, userID string) error {
	if s.clearErr != nil {
		return s.clearErr
	}
	return s.DraftRepository.Clear(ctx, userID)
}

type stubPushGateway struct {
	initiateFunc func(ctx context.Context, req payments.PushRequest) (payments.PushInitiation, error)
	queryFunc    func(ctx context.Context, handle string) (payments.PushStatus, error)
	initiated    atomic.Int32
	queried      atomic.Int32
}

func (s *stubPushGateway) InitiatePush(ctx context.Context, req payments.PushRequest) (payments.PushInitiation, error) {
	s.initiated.Add(1)
	if s.initiateFunc == nil {
		return payments.PushInitiation{Success: true, Handle: "ws_CO_1", Message: "Success. Request accepted for processing"}, nil
	}
	return s.initiateFunc(ctx, req)
}

func (s *stubPushGateway) QueryPush(ctx context.Context, handle string) (payments.PushStatus, error) {
	s.queried.Add(1)
	return s.queryFunc(ctx, handle)
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

type fakeTimer struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTimer) C() <-chan time.Time { return f.ch }
func (f *fakeTimer) Stop() bool          { return !f.stopped.Swap(true) }

// fakePollClock hands out unbuffered channels so each tick is received before tick returns.
type fakePollClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func newFakePollClock(now time.Time) *fakePollClock {
	return &fakePollClock{now: now}
}

func (c *fakePollClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakePollClock) NewTicker(time.Duration) PollTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakePollClock) NewTimer(time.Duration) PollTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{ch: make(chan time.Time)}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakePollClock) ticker() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[len(c.tickers)-1]
}

func (c *fakePollClock) timer() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

// tick reports whether the running task accepted the tick within wait.
func (c *fakePollClock) tick(wait time.Duration) bool {
	select {
	case c.ticker().ch <- c.Now():
		return true
	case <-time.After(wait):
		return false
	}
}

func (c *fakePollClock) fire(wait time.Duration) bool {
	select {
	case c.timer().ch <- c.Now():
		return true
	case <-time.After(wait):
		return false
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitDone(t *testing.T, task *PollTask) PollOutcome {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("poll task did not resolve")
	}
	outcome, ok := task.Outcome()
	if !ok {
		t.Fatalf("expected outcome after done")
	}
	return outcome
}

func intPtr(v int) *int { return &v }

func testCart(items ...domain.CartItem) domain.Cart {
	return domain.Cart{ID: "cart-1", UserID: "user-1", Items: items, ItemCount: len(items)}
}

func cartItem(productID string, price int64, qty int) domain.CartItem {
	return domain.CartItem{
		ID:        "item-" + productID,
		ProductID: productID,
		Name:      "Product " + productID,
		Price:     decimal.NewFromInt(price),
		Quantity:  qty,
	}
}

func completeForm() domain.CheckoutForm {
	return domain.CheckoutForm{
		FullName:         "Jane Wanjiku",
		Email:            "jane@example.com",
		PhoneNumber:      "0712345678",
		Address:          "Moi Avenue 12",
		City:             "Nairobi",
		PostalCode:       "00100",
		Country:          "Kenya",
		DeliveryLocation: "KIAMBU",
		PaymentMethod:    domain.PaymentMethodMpesa,
	}
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

// eventRecorder captures structured log events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{name: event, fields: fields})
	r.mu.Unlock()
}

func (r *eventRecorder) find(name string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.name == name {
			return event, true
		}
	}
	return recordedEvent{}, false
}
