package services

import (
	"testing"

	"github.com/hanko-field/checkout/internal/domain"
)

func TestDraftSanitizerStripsMarkup(t *testing.T) {
	sanitizer := NewDraftSanitizer()
	form := sanitizer.Form(domain.CheckoutForm{
		FullName:         "  <b>Jane</b> O'Neil ",
		Address:          "Moi Ave <script>alert(1)</script>& Co",
		OrderNotes:       "Cafe\u0301 at the gate",
		DeliveryLocation: " KENCOM ",
		PaymentMethod:    domain.PaymentMethodMpesa,
	})
	if form.FullName != "Jane O'Neil" {
		t.Fatalf("unexpected name %q", form.FullName)
	}
	if form.Address != "Moi Ave & Co" {
		t.Fatalf("unexpected address %q", form.Address)
	}
	if form.OrderNotes != "Caf\u00e9 at the gate" {
		t.Fatalf("expected NFC normalised notes, got %q", form.OrderNotes)
	}
	if form.DeliveryLocation != "KENCOM" || form.PaymentMethod != domain.PaymentMethodMpesa {
		t.Fatalf("enumerated fields must pass through, got %+v", form)
	}
}
