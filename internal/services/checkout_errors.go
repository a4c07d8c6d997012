package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/checkout/internal/domain"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutSessionNotFound indicates the shopper has no live checkout session.
	ErrCheckoutSessionNotFound = errors.New("checkout: session not found")
	// ErrCheckoutCartUnavailable indicates the cart could not be loaded.
	ErrCheckoutCartUnavailable = errors.New("checkout: cart unavailable")
	// ErrCheckoutCartEmpty indicates there is nothing to check out.
	ErrCheckoutCartEmpty = errors.New("checkout: cart is empty")
	// ErrCheckoutStepInvalid indicates the current step's fields failed validation.
	ErrCheckoutStepInvalid = errors.New("checkout: step validation failed")
	// ErrCheckoutStepTransition indicates a step change outside the allowed transitions.
	ErrCheckoutStepTransition = errors.New("checkout: step transition not allowed")
	// ErrCheckoutFinalStep indicates Next was called on the review step.
	ErrCheckoutFinalStep = errors.New("checkout: already at final step")
	// ErrCheckoutNotAtReview indicates an order was placed before reaching review.
	ErrCheckoutNotAtReview = errors.New("checkout: order can only be placed from review")
	// ErrCheckoutSubmissionInFlight indicates another submission for the same checkout is running.
	ErrCheckoutSubmissionInFlight = errors.New("checkout: submission in flight")
	// ErrCheckoutPaymentPending indicates a push payment is awaiting confirmation.
	ErrCheckoutPaymentPending = errors.New("checkout: payment pending")
	// ErrCheckoutNoFailedPayment indicates retry was requested without a failed payment.
	ErrCheckoutNoFailedPayment = errors.New("checkout: no failed payment to retry")
	// ErrCheckoutOrderPlaced indicates the checkout already produced an order.
	ErrCheckoutOrderPlaced = errors.New("checkout: order already placed")
	// ErrCheckoutDraftMissing indicates no persisted draft exists for the push confirmation.
	ErrCheckoutDraftMissing = errors.New("checkout: draft missing")
	// ErrCheckoutOrderFailed indicates the order could not be created.
	ErrCheckoutOrderFailed = errors.New("checkout: order submission failed")

	// ErrPaymentMethodNotPush indicates the initiator was asked to push a non-push method.
	ErrPaymentMethodNotPush = errors.New("payment: method does not use push confirmation")
	// ErrPaymentPreflight indicates required payment fields are missing.
	ErrPaymentPreflight = errors.New("payment: missing required fields")
	// ErrPaymentGatewayRejected indicates the gateway refused or failed the initiation.
	ErrPaymentGatewayRejected = errors.New("payment: gateway rejected")
	// ErrPollTaskStarted indicates Start was called twice on a poll task.
	ErrPollTaskStarted = errors.New("payment poll: task already started")
)

// ValidationError lists the fields that block leaving Step.
type ValidationError struct {
	Step   domain.CheckoutStep
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout: %s step invalid fields [%s]", e.Step, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrCheckoutStepInvalid }

// MissingFieldsError lists fields absent from both the form and the profile.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("payment: missing required fields [%s]", strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error { return ErrPaymentPreflight }

// GatewayRejectedError carries the shopper-facing message for a failed initiation.
type GatewayRejectedError struct {
	Message string
	Err     error
}

func (e *GatewayRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment: gateway rejected: %s: %v", e.Message, e.Err)
	}
	return "payment: gateway rejected: " + e.Message
}

func (e *GatewayRejectedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPaymentGatewayRejected}
	}
	return []error{ErrPaymentGatewayRejected, e.Err}
}

// OrderSubmissionError carries field-keyed rejections from order creation.
type OrderSubmissionError struct {
	Fields map[string][]string
	Err    error
}

func (e *OrderSubmissionError) Error() string {
	if e.Err != nil {
		return "checkout: order submission failed: " + e.Err.Error()
	}
	return ErrCheckoutOrderFailed.Error()
}

func (e *OrderSubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCheckoutOrderFailed}
	}
	return []error{ErrCheckoutOrderFailed, e.Err}
}

func cloneFields(fields map[string][]string) map[string][]string {
	if fields == nil {
		return nil
	}
	out := make(map[string][]string, len(fields))
	for key, messages := range fields {
		out[key] = append([]string(nil), messages...)
	}
	return out
}
