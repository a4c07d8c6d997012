package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err (or anything it wraps) is a RepositoryError flagged as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsUnavailable reports whether err is a transient backend failure.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// ValidationError is returned when the store rejects a write for field-level reasons,
// e.g. an empty cart at order time. Fields maps a field name to its messages.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, strings.Join(e.Fields[key], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// CartRepository reads shopper carts.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
}

// ProfileRepository reads shopper profiles. A missing profile yields a not-found RepositoryError.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// OrderSubmission carries everything needed to create an order. The cart lines are read again
// inside the store's transaction so the snapshot matches what gets cleared.
type OrderSubmission struct {
	UserID           string
	CartID           string
	Shipping         domain.ShippingDetails
	IsPickup         bool
	DeliveryLocation string
	Notes            string
	Subtotal         decimal.Decimal
	DeliveryFee      decimal.Decimal
	OrderTotal       decimal.Decimal
	PaymentMethod    domain.PaymentMethod
	PaymentStatus    domain.PaymentStatus
	MpesaCheckoutID  string
}

// OrderListFilter scopes order listings to a single shopper.
type OrderListFilter struct {
	UserID     string
	Pagination domain.Pagination
}

// OrderPage is one page of orders, newest first.
type OrderPage struct {
	Items         []domain.Order
	NextPageToken string
}

// OrderRepository persists orders.
type OrderRepository interface {
	// CreateOrder snapshots the cart into a new order and empties the cart atomically.
	// An empty or mismatched cart yields *ValidationError.
	CreateOrder(ctx context.Context, submission OrderSubmission) (domain.Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (OrderPage, error)
}

// DraftRepository stores the single in-flight checkout draft per shopper.
type DraftRepository interface {
	Save(ctx context.Context, draft domain.CheckoutDraft) error
	// Load returns a not-found RepositoryError when no unexpired draft exists.
	Load(ctx context.Context, userID string) (domain.CheckoutDraft, error)
	Clear(ctx context.Context, userID string) error
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// PaymentTransactionRepository records push-payment callbacks.
type PaymentTransactionRepository interface {
	RecordTransaction(ctx context.Context, txn domain.PaymentTransaction) error
	FindByCheckoutID(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error)
}

// HealthRepository probes backing dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
