package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// CheckoutService runs server-side checkout sessions, one per shopper.
type CheckoutService interface {
	Start(ctx context.Context, userID string) (CheckoutSnapshot, error)
	Snapshot(ctx context.Context, userID string) (CheckoutSnapshot, error)
	UpdateForm(ctx context.Context, userID string, patch FormPatch) (CheckoutSnapshot, error)
	Next(ctx context.Context, userID string) (CheckoutSnapshot, error)
	Back(ctx context.Context, userID string, target *domain.CheckoutStep) (CheckoutSnapshot, error)
	PlaceOrder(ctx context.Context, userID string) (CheckoutSnapshot, error)
	ClosePaymentDialog(ctx context.Context, userID string) (CheckoutSnapshot, error)
	RetryPayment(ctx context.Context, userID string) (CheckoutSnapshot, error)
	Abandon(ctx context.Context, userID string) error
	DeliveryAreas(ctx context.Context) []DeliveryAreaGroup
	SweepIdle(ctx context.Context) (int, error)
	ActiveSessions() int
	Shutdown(ctx context.Context)
}

// OrderService exposes a shopper's order history.
type OrderService interface {
	ListOrders(ctx context.Context, userID string, pager domain.Pagination) (repositories.OrderPage, error)
	GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error)
}

// PaymentCallbackService records asynchronous gateway results.
type PaymentCallbackService interface {
	RecordPushResult(ctx context.Context, result PushCallback) (domain.PaymentTransaction, error)
}

// MaintenanceService runs periodic cleanup.
type MaintenanceService interface {
	Sweep(ctx context.Context) (MaintenanceReport, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.HealthReport, error)
}

// PushCallback is a gateway-neutral push payment result.
type PushCallback struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            decimal.Decimal
	ReceiptNumber     string
	PhoneNumber       string
}

// MaintenanceReport summarises one sweep.
type MaintenanceReport struct {
	DraftsPurged      int
	IdempotencyPurged int
	SessionsClosed    int
	StartedAt         time.Time
	Duration          time.Duration
}
