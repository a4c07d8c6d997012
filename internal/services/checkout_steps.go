package services

import (
	"net/mail"
	"slices"
	"strings"

	"github.com/hanko-field/checkout/internal/domain"
)

// Field names reported by validation. They match the JSON form keys.
const (
	fieldFullName         = "full_name"
	fieldEmail            = "email"
	fieldPhoneNumber      = "phone_number"
	fieldAddress          = "address"
	fieldCity             = "city"
	fieldPostalCode       = "postal_code"
	fieldCountry          = "country"
	fieldDeliveryLocation = "delivery_location"
	fieldPaymentMethod    = "payment_method"
)

// allowedStepTransitions lists the legal targets for each step: forward by one, or back to any earlier step.
var allowedStepTransitions = map[domain.CheckoutStep][]domain.CheckoutStep{
	domain.CheckoutStepShipping: {domain.CheckoutStepPayment},
	domain.CheckoutStepPayment:  {domain.CheckoutStepReview, domain.CheckoutStepShipping},
	domain.CheckoutStepReview:   {domain.CheckoutStepPayment, domain.CheckoutStepShipping},
}

func canTransition(from, to domain.CheckoutStep) bool {
	return slices.Contains(allowedStepTransitions[from], to)
}

// FieldValidator decides whether the form is complete enough to leave a step.
type FieldValidator struct {
	fees *DeliveryFeeResolver
}

// NewFieldValidator builds a validator that checks delivery locations against fees.
func NewFieldValidator(fees *DeliveryFeeResolver) FieldValidator {
	if fees == nil {
		fees = NewDeliveryFeeResolver(nil)
	}
	return FieldValidator{fees: fees}
}

// Validate returns nil when form may leave step, otherwise the offending fields.
func (v FieldValidator) Validate(step domain.CheckoutStep, form domain.CheckoutForm) *ValidationError {
	var fields []string
	switch step {
	case domain.CheckoutStepShipping:
		fields = v.shippingFields(form)
	case domain.CheckoutStepPayment:
		if !form.PaymentMethod.Valid() {
			fields = append(fields, fieldPaymentMethod)
		}
	case domain.CheckoutStepReview:
	default:
		return &ValidationError{Step: step}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Step: step, Fields: fields}
}

func (v FieldValidator) shippingFields(form domain.CheckoutForm) []string {
	var fields []string
	required := []struct {
		name  string
		value string
	}{
		{fieldFullName, form.FullName},
		{fieldEmail, form.Email},
		{fieldPhoneNumber, form.PhoneNumber},
		{fieldAddress, form.Address},
		{fieldCity, form.City},
		{fieldPostalCode, form.PostalCode},
		{fieldCountry, form.Country},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			fields = append(fields, field.name)
		}
	}
	if email := strings.TrimSpace(form.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			fields = append(fields, fieldEmail)
		}
	}
	location := strings.TrimSpace(form.DeliveryLocation)
	switch {
	case form.IsPickup && location != "":
		fields = append(fields, fieldDeliveryLocation)
	case !form.IsPickup:
		if _, ok := v.fees.Lookup(location); !ok {
			fields = append(fields, fieldDeliveryLocation)
		}
	}
	return fields
}

// StepSequencer tracks the current step. It is not safe for concurrent use; the orchestrator serialises access.
type StepSequencer struct {
	current domain.CheckoutStep
}

// NewStepSequencer starts at the shipping step.
func NewStepSequencer() *StepSequencer {
	return &StepSequencer{current: domain.CheckoutStepShipping}
}

// Current returns the active step.
func (s *StepSequencer) Current() domain.CheckoutStep {
	return s.current
}

// Next validates the current step and advances by one. On failure the step is unchanged.
func (s *StepSequencer) Next(validator FieldValidator, form domain.CheckoutForm) (domain.CheckoutStep, error) {
	if s.current == domain.CheckoutStepReview {
		return s.current, ErrCheckoutFinalStep
	}
	if verr := validator.Validate(s.current, form); verr != nil {
		return s.current, verr
	}
	return s.current, s.moveTo(s.current + 1)
}

// Back moves to target, or to the previous step when target is nil. No validation is applied.
func (s *StepSequencer) Back(target *domain.CheckoutStep) (domain.CheckoutStep, error) {
	to := s.current - 1
	if target != nil {
		to = *target
	}
	if !to.Valid() || to >= s.current {
		return s.current, ErrCheckoutStepTransition
	}
	return s.current, s.moveTo(to)
}

// Reset returns to the shipping step.
func (s *StepSequencer) Reset() {
	s.current = domain.CheckoutStepShipping
}

func (s *StepSequencer) moveTo(to domain.CheckoutStep) error {
	if !canTransition(s.current, to) {
		return ErrCheckoutStepTransition
	}
	s.current = to
	return nil
}
