package firestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

func TestBuildOrderSnapshotsUnitPrices(t *testing.T) {
	discount := decimal.NewFromInt(800)
	lines := []domain.CartItem{
		{ProductID: "p1", Name: "Kikoy", Price: decimal.NewFromInt(1000), DiscountPrice: &discount, Quantity: 2},
		{ProductID: "p2", Name: "Basket", Price: decimal.RequireFromString("450.50"), Quantity: 1},
	}
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	order := buildOrder("ord_1", "uid-1", repositories.OrderSubmission{
		DeliveryFee:   decimal.NewFromInt(200),
		PaymentMethod: domain.PaymentMethodPayPal,
		PaymentStatus: domain.PaymentStatusPending,
	}, lines, now)

	if !order.Totals.Subtotal.Equal(decimal.RequireFromString("2050.50")) {
		t.Fatalf("unexpected subtotal %s", order.Totals.Subtotal)
	}
	if !order.Totals.OrderTotal.Equal(decimal.RequireFromString("2250.50")) {
		t.Fatalf("unexpected order total %s", order.Totals.OrderTotal)
	}
	if !order.Items[0].Price.Equal(discount) || !order.Items[0].Total.Equal(decimal.NewFromInt(1600)) {
		t.Fatalf("expected discounted line, got %+v", order.Items[0])
	}
	if order.Status != domain.OrderStatusPending || order.CartID != "uid-1" || !order.CreatedAt.Equal(now) {
		t.Fatalf("unexpected order header: %+v", order)
	}
}

func TestOrderDocumentRejectsCorruptMoney(t *testing.T) {
	doc := orderToDocument(domain.Order{ID: "ord_1", Totals: domain.Totals{Subtotal: decimal.NewFromInt(10)}})
	doc.OrderTotal = "ten"
	if _, err := doc.toDomain("ord_1"); err == nil {
		t.Fatalf("expected parse error for corrupt total")
	}
}

func TestDraftDocumentKeepsDeliveryFee(t *testing.T) {
	draft := domain.CheckoutDraft{
		UserID: "uid-1",
		CartID: "uid-1",
		Form:   domain.CheckoutForm{FullName: "Amina Otieno", DeliveryFee: decimal.NewFromInt(300), PaymentMethod: domain.PaymentMethodMpesa},
	}
	got, err := draftToDocument(draft).toDomain("uid-1")
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if !got.Form.DeliveryFee.Equal(decimal.NewFromInt(300)) || got.Form.PaymentMethod != domain.PaymentMethodMpesa {
		t.Fatalf("unexpected draft: %+v", got)
	}
}
