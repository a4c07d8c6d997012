package services

import (
	"errors"
	"slices"
	"testing"

	"github.com/hanko-field/checkout/internal/domain"
)

func TestFieldValidatorShipping(t *testing.T) {
	validator := NewFieldValidator(nil)

	if verr := validator.Validate(domain.CheckoutStepShipping, completeForm()); verr != nil {
		t.Fatalf("expected complete form to pass, got %v", verr)
	}

	form := completeForm()
	form.Email = ""
	verr := validator.Validate(domain.CheckoutStepShipping, form)
	if verr == nil || !slices.Equal(verr.Fields, []string{fieldEmail}) {
		t.Fatalf("expected email to be reported, got %v", verr)
	}

	form = completeForm()
	form.Email = "not-an-email"
	if verr := validator.Validate(domain.CheckoutStepShipping, form); verr == nil || !slices.Contains(verr.Fields, fieldEmail) {
		t.Fatalf("expected malformed email to fail, got %v", verr)
	}

	form = completeForm()
	form.DeliveryLocation = "ATLANTIS"
	if verr := validator.Validate(domain.CheckoutStepShipping, form); verr == nil || !slices.Contains(verr.Fields, fieldDeliveryLocation) {
		t.Fatalf("expected unknown location to fail, got %v", verr)
	}

	form = completeForm()
	form.IsPickup = true
	if verr := validator.Validate(domain.CheckoutStepShipping, form); verr == nil {
		t.Fatalf("pickup with a location must fail")
	}
	form.DeliveryLocation = ""
	if verr := validator.Validate(domain.CheckoutStepShipping, form); verr != nil {
		t.Fatalf("pickup without location should pass, got %v", verr)
	}
}

func TestFieldValidatorPaymentAndReview(t *testing.T) {
	validator := NewFieldValidator(nil)
	form := completeForm()
	form.PaymentMethod = "CASH"
	verr := validator.Validate(domain.CheckoutStepPayment, form)
	if verr == nil || !slices.Equal(verr.Fields, []string{fieldPaymentMethod}) {
		t.Fatalf("expected payment method failure, got %v", verr)
	}
	if verr := validator.Validate(domain.CheckoutStepReview, domain.CheckoutForm{}); verr != nil {
		t.Fatalf("review is always valid, got %v", verr)
	}
}

func TestStepSequencerStaysPutOnInvalidInput(t *testing.T) {
	seq := NewStepSequencer()
	validator := NewFieldValidator(nil)
	form := completeForm()
	form.Email = ""

	_, err := seq.Next(validator, form)
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrCheckoutStepInvalid) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if seq.Current() != domain.CheckoutStepShipping {
		t.Fatalf("step must not change, got %s", seq.Current())
	}
}

func TestStepSequencerForwardAndBack(t *testing.T) {
	seq := NewStepSequencer()
	validator := NewFieldValidator(nil)
	form := completeForm()

	for _, want := range []domain.CheckoutStep{domain.CheckoutStepPayment, domain.CheckoutStepReview} {
		if _, err := seq.Next(validator, form); err != nil {
			t.Fatalf("next: %v", err)
		}
		if seq.Current() != want {
			t.Fatalf("expected %s, got %s", want, seq.Current())
		}
	}
	if _, err := seq.Next(validator, form); !errors.Is(err, ErrCheckoutFinalStep) {
		t.Fatalf("expected final step error, got %v", err)
	}

	target := domain.CheckoutStepShipping
	if _, err := seq.Back(&target); err != nil {
		t.Fatalf("back to shipping: %v", err)
	}
	if seq.Current() != domain.CheckoutStepShipping {
		t.Fatalf("expected shipping, got %s", seq.Current())
	}
	if _, err := seq.Back(nil); !errors.Is(err, ErrCheckoutStepTransition) {
		t.Fatalf("expected transition error before first step, got %v", err)
	}
	forward := domain.CheckoutStepReview
	if _, err := seq.Back(&forward); !errors.Is(err, ErrCheckoutStepTransition) {
		t.Fatalf("back must not move forward, got %v", err)
	}
}
