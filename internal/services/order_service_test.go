package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

func TestOrderServiceListOrdersClampsPageSize(t *testing.T) {
	var captured repositories.OrderListFilter
	repo := &stubOrderRepository{
		listFunc: func(ctx context.Context, filter repositories.OrderListFilter) (repositories.OrderPage, error) {
			captured = filter
			return repositories.OrderPage{Items: []domain.Order{{ID: "ord_2"}, {ID: "ord_1"}}, NextPageToken: "next"}, nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	page, err := svc.ListOrders(context.Background(), " user-1 ", domain.Pagination{PageSize: 500, PageToken: "tok"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if captured.UserID != "user-1" || captured.Pagination.PageSize != maxOrderPageSize || captured.Pagination.PageToken != "tok" {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if len(page.Items) != 2 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page %+v", page)
	}

	if _, err := svc.ListOrders(context.Background(), "user-1", domain.Pagination{}); err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if captured.Pagination.PageSize != defaultOrderPageSize {
		t.Fatalf("expected default page size, got %d", captured.Pagination.PageSize)
	}
	if _, err := svc.ListOrders(context.Background(), "", domain.Pagination{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestOrderServiceGetOrderMapsErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"not found", repositories.NewStoreError("orders.get", repositories.StoreErrorNotFound, nil), ErrOrderNotFound},
		{"unavailable", repositories.NewStoreError("orders.get", repositories.StoreErrorUnavailable, errors.New("deadline")), ErrOrderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubOrderRepository{
				getFunc: func(context.Context, string, string) (domain.Order, error) {
					return domain.Order{}, tc.err
				},
			}
			svc, _ := NewOrderService(OrderServiceDeps{Orders: repo})
			if _, err := svc.GetOrder(context.Background(), "user-1", "ord_1"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestOrderServiceGetOrder(t *testing.T) {
	repo := &stubOrderRepository{
		getFunc: func(ctx context.Context, userID, orderID string) (domain.Order, error) {
			if userID != "user-1" || orderID != "ord_1" {
				t.Fatalf("unexpected lookup %s/%s", userID, orderID)
			}
			return domain.Order{ID: orderID, UserID: userID}, nil
		},
	}
	svc, _ := NewOrderService(OrderServiceDeps{Orders: repo})
	order, err := svc.GetOrder(context.Background(), "user-1", "ord_1")
	if err != nil || order.ID != "ord_1" {
		t.Fatalf("unexpected result %+v %v", order, err)
	}
	if _, err := svc.GetOrder(context.Background(), "user-1", ""); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type stubTransactionRepository struct {
	recorded  []domain.PaymentTransaction
	recordErr error
}

func (s *stubTransactionRepository) RecordTransaction(ctx context.Context, txn domain.PaymentTransaction) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.recorded = append(s.recorded, txn)
	return nil
}

func (s *stubTransactionRepository) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
	for _, txn := range s.recorded {
		if txn.CheckoutRequestID == checkoutRequestID {
			return txn, nil
		}
	}
	return domain.PaymentTransaction{}, repositories.NewStoreError("transactions.find", repositories.StoreErrorNotFound, nil)
}

func TestPaymentCallbackServiceRecordsResult(t *testing.T) {
	now := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	repo := &stubTransactionRepository{}
	var events []string
	svc, err := NewPaymentCallbackService(PaymentCallbackServiceDeps{
		Transactions: repo,
		Clock:        func() time.Time { return now },
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new callback service: %v", err)
	}

	txn, err := svc.RecordPushResult(context.Background(), PushCallback{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		Amount:            decimal.NewFromInt(1300),
		ReceiptNumber:     "NLJ7RT61SV",
		PhoneNumber:       "254712345678",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if txn.Status != domain.PaymentStatusCompleted || !txn.ReceivedAt.Equal(now) || len(repo.recorded) != 1 {
		t.Fatalf("unexpected transaction %+v", txn)
	}

	failed, err := svc.RecordPushResult(context.Background(), PushCallback{CheckoutRequestID: "ws_CO_2", ResultCode: 1032})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if failed.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
	if len(events) != 2 || events[0] != "payment.callback.recorded" {
		t.Fatalf("unexpected events %v", events)
	}

	if _, err := svc.RecordPushResult(context.Background(), PushCallback{}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPaymentCallbackServiceUnavailable(t *testing.T) {
	repo := &stubTransactionRepository{
		recordErr: repositories.NewStoreError("transactions.record", repositories.StoreErrorUnavailable, errors.New("unavailable")),
	}
	svc, _ := NewPaymentCallbackService(PaymentCallbackServiceDeps{Transactions: repo})
	if _, err := svc.RecordPushResult(context.Background(), PushCallback{CheckoutRequestID: "ws_CO_1"}); !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
