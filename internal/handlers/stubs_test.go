package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/repositories"
	"github.com/hanko-field/checkout/internal/services"
)

type stubCheckoutService struct {
	startFunc    func(ctx context.Context, userID string) (services.CheckoutSnapshot, error)
	snapshotFunc func(ctx context.Context, userID string) (services.CheckoutSnapshot, error)
	updateFunc   func(ctx context.Context, userID string, patch services.FormPatch) (services.CheckoutSnapshot, error)
	nextFunc     func(ctx context.Context, userID string) (services.CheckoutSnapshot, error)
	backFunc     func(ctx context.Context, userID string, target *domain.CheckoutStep) (services.CheckoutSnapshot, error)
	placeFunc    func(ctx context.Context, userID string) (services.CheckoutSnapshot, error)
	closeFunc    func(ctx context.Context, userID string) (services.CheckoutSnapshot, error)
	retryFunc    func(ctx context.Context, userID string) (services.CheckoutSnapshot, error)
	abandonFunc  func(ctx context.Context, userID string) error
	areas        []services.DeliveryAreaGroup
}

func (s *stubCheckoutService) Start(ctx context.Context, userID string) (services.CheckoutSnapshot, error) {
	if s.startFunc != nil {
		return s.startFunc(ctx, userID)
	}
	return services.CheckoutSnapshot{UserID: userID}, nil
}

func (s *stubCheckoutService) Snapshot(ctx context.Context, userID string) (services.CheckoutSnapshot, error) {
	if s.snapshotFunc != nil {
		return s.snapshotFunc(ctx, userID)
	}
	return services.CheckoutSnapshot{UserID: userID}, nil
}

func (s *stubCheckoutService) UpdateForm(ctx context.Context, userID string, patch services.FormPatch) (services.CheckoutSnapshot, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, userID, patch)
	}
	return services.CheckoutSnapshot{UserID: userID}, nil
}

func (s *stubCheckoutService) Next(ctx context.Context, userID string) (services.CheckoutSnapshot, error) {
	if s.nextFunc != nil {
		return s.nextFunc(ctx, userID)
	}
	return services.CheckoutSnapshot{UserID: userID}, nil
}

func (s *stubCheckoutService) Back(ctx context.Context, userID string, target *domain.CheckoutStep) (services.CheckoutSnapshot, error) {
	if s.backFunc != nil {
		return s.backFunc(ctx, userID, target)
	}
	return services.CheckoutSnapshot{UserID: userID}, nil
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, userID string) (services.CheckoutSnapshot, error) {
	if s.placeFunc != nil {
		return s.placeFunc(ctx, userID)
	}
	return services.CheckoutSnapshot{UserID: userID}, nil
}

func (s *stubCheckoutService) ClosePaymentDialog(ctx context.Context, userID string) (services.CheckoutSnapshot, error) {
	if s.closeFunc != nil {
		return s.closeFunc(ctx, userID)
	}
	return services.CheckoutSnapshot{UserID: userID}, nil
}

func (s *stubCheckoutService) RetryPayment(ctx context.Context, userID string) (services.CheckoutSnapshot, error) {
	if s.retryFunc != nil {
		return s.retryFunc(ctx, userID)
	}
	return services.CheckoutSnapshot{UserID: userID}, nil
}

func (s *stubCheckoutService) Abandon(ctx context.Context, userID string) error {
	if s.abandonFunc != nil {
		return s.abandonFunc(ctx, userID)
	}
	return nil
}

func (s *stubCheckoutService) DeliveryAreas(context.Context) []services.DeliveryAreaGroup {
	return s.areas
}

func (s *stubCheckoutService) SweepIdle(context.Context) (int, error) { return 0, nil }

func (s *stubCheckoutService) ActiveSessions() int { return 0 }

func (s *stubCheckoutService) Shutdown(context.Context) {}

type stubOrderService struct {
	listFunc func(ctx context.Context, userID string, pager domain.Pagination) (repositories.OrderPage, error)
	getFunc  func(ctx context.Context, userID, orderID string) (domain.Order, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, userID string, pager domain.Pagination) (repositories.OrderPage, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID, pager)
	}
	return repositories.OrderPage{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID, orderID)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

func withUser(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func decodeResponse[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", string(data), err)
	}
	return out
}
