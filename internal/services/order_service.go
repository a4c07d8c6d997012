package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

type orderReader interface {
	GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) (repositories.OrderPage, error)
}

// OrderServiceDeps wires the order history service.
type OrderServiceDeps struct {
	Orders orderReader
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders orderReader
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{orders: deps.Orders, logger: logger}, nil
}

func (s *orderService) ListOrders(ctx context.Context, userID string, pager domain.Pagination) (repositories.OrderPage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return repositories.OrderPage{}, ErrOrderInvalidInput
	}
	switch {
	case pager.PageSize <= 0:
		pager.PageSize = defaultOrderPageSize
	case pager.PageSize > maxOrderPageSize:
		pager.PageSize = maxOrderPageSize
	}
	page, err := s.orders.ListOrders(ctx, repositories.OrderListFilter{UserID: userID, Pagination: pager})
	if err != nil {
		return repositories.OrderPage{}, s.mapRepositoryError(ctx, err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.GetOrder(ctx, userID, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(ctx, err)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(ctx context.Context, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			s.logger(ctx, "order.repository.unavailable", map[string]any{"error": err.Error()})
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	var validation *repositories.ValidationError
	if errors.As(err, &validation) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	return err
}

// PaymentCallbackServiceDeps wires the gateway callback recorder.
type PaymentCallbackServiceDeps struct {
	Transactions repositories.PaymentTransactionRepository
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type paymentCallbackService struct {
	transactions repositories.PaymentTransactionRepository
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentCallbackService constructs a PaymentCallbackService.
func NewPaymentCallbackService(deps PaymentCallbackServiceDeps) (PaymentCallbackService, error) {
	if deps.Transactions == nil {
		return nil, errors.New("payment callback service: transaction repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentCallbackService{
		transactions: deps.Transactions,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// RecordPushResult stores the gateway's final word on a push payment. Repeated callbacks
// for the same checkout request overwrite the earlier record.
func (s *paymentCallbackService) RecordPushResult(ctx context.Context, result PushCallback) (domain.PaymentTransaction, error) {
	checkoutID := strings.TrimSpace(result.CheckoutRequestID)
	if checkoutID == "" {
		return domain.PaymentTransaction{}, ErrCheckoutInvalidInput
	}
	status := domain.PaymentStatusFailed
	if result.ResultCode == 0 {
		status = domain.PaymentStatusCompleted
	}
	txn := domain.PaymentTransaction{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: strings.TrimSpace(result.MerchantRequestID),
		ReceiptNumber:     strings.TrimSpace(result.ReceiptNumber),
		PhoneNumber:       strings.TrimSpace(result.PhoneNumber),
		Amount:            result.Amount,
		ResultCode:        result.ResultCode,
		ResultDesc:        strings.TrimSpace(result.ResultDesc),
		Status:            status,
		ReceivedAt:        s.now(),
	}
	if err := s.transactions.RecordTransaction(ctx, txn); err != nil {
		s.logger(ctx, "payment.callback.record_failed", map[string]any{
			"checkoutRequestId": checkoutID,
			"error":             err.Error(),
		})
		if repositories.IsUnavailable(err) {
			return domain.PaymentTransaction{}, errors.Join(ErrCheckoutUnavailable, err)
		}
		return domain.PaymentTransaction{}, err
	}
	s.logger(ctx, "payment.callback.recorded", map[string]any{
		"checkoutRequestId": checkoutID,
		"resultCode":        result.ResultCode,
		"status":            string(status),
	})
	return txn, nil
}
