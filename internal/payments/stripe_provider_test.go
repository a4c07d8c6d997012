package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type stubStripeSessions struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (s *stubStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.params = params
	return s.session, s.err
}

func TestStripeProviderCreateCheckoutSession(t *testing.T) {
	sessions := &stubStripeSessions{session: &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/c/cs_test", ExpiresAt: 1714560000}}
	var events []string
	provider, err := NewStripeProvider(StripeProviderConfig{
		Sessions: sessions,
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		OrderID:        "ord_1",
		CustomerEmail:  "jane@example.com",
		Currency:       "KES",
		SuccessURL:     "https://shop.example.com/orders/ord_1",
		CancelURL:      "https://shop.example.com/checkout",
		IdempotencyKey: "ord_1",
		Items: []CheckoutLineItem{
			{Name: "Mug", SKU: "p-1", Quantity: 2, Amount: 45000},
			{Name: "Delivery", Quantity: 1, Amount: 15000},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID != "cs_test" || session.RedirectURL != "https://checkout.stripe.com/c/cs_test" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.ExpiresAt.Unix() != 1714560000 {
		t.Fatalf("unexpected expiry %s", session.ExpiresAt)
	}

	params := sessions.params
	if params == nil {
		t.Fatalf("expected params to be sent")
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected two line items, got %d", len(params.LineItems))
	}
	first := params.LineItems[0]
	if *first.Quantity != 2 || *first.PriceData.UnitAmount != 45000 || *first.PriceData.Currency != "kes" {
		t.Fatalf("unexpected first line %+v", first.PriceData)
	}
	if first.PriceData.ProductData.Metadata["sku"] != "p-1" {
		t.Fatalf("expected sku metadata")
	}
	if params.Metadata["orderId"] != "ord_1" || params.PaymentIntentData.Metadata["orderId"] != "ord_1" {
		t.Fatalf("expected order id metadata")
	}
	if *params.ClientReferenceID != "ord_1" || *params.CustomerEmail != "jane@example.com" {
		t.Fatalf("unexpected params %+v", params)
	}
	if params.IdempotencyKey == nil || *params.IdempotencyKey != "ord_1" {
		t.Fatalf("expected idempotency key")
	}
	if len(events) != 1 || events[0] != "payments.stripe.session.created" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestStripeProviderValidation(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected api key error")
	}
	provider, err := NewStripeProvider(StripeProviderConfig{Sessions: &stubStripeSessions{}})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{SuccessURL: "a", CancelURL: "b"}); err == nil {
		t.Fatalf("expected error without items")
	}
}

func TestStripeProviderWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	provider, _ := NewStripeProvider(StripeProviderConfig{Sessions: &stubStripeSessions{err: boom}})
	_, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		SuccessURL: "a", CancelURL: "b",
		Items: []CheckoutLineItem{{Name: "Mug", Quantity: 1, Amount: 100}},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
