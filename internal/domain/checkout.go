package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckoutStep is the position of the shopper in the checkout sequence.
type CheckoutStep int

const (
	CheckoutStepShipping CheckoutStep = iota
	CheckoutStepPayment
	CheckoutStepReview
)

func (s CheckoutStep) String() string {
	switch s {
	case CheckoutStepShipping:
		return "SHIPPING"
	case CheckoutStepPayment:
		return "PAYMENT"
	case CheckoutStepReview:
		return "REVIEW"
	}
	return "UNKNOWN"
}

// Valid reports whether the step is inside the sequence.
func (s CheckoutStep) Valid() bool {
	return s >= CheckoutStepShipping && s <= CheckoutStepReview
}

// CheckoutForm is the editable checkout record. DeliveryFee is derived from the delivery selection.
type CheckoutForm struct {
	FullName         string
	Email            string
	PhoneNumber      string
	Address          string
	City             string
	PostalCode       string
	Country          string
	IsPickup         bool
	DeliveryLocation string
	DeliveryFee      decimal.Decimal
	PaymentMethod    PaymentMethod
	OrderNotes       string
}

// Shipping extracts the contact and address snapshot.
func (f CheckoutForm) Shipping() ShippingDetails {
	return ShippingDetails{
		FullName:    f.FullName,
		Email:       f.Email,
		PhoneNumber: f.PhoneNumber,
		Address:     f.Address,
		City:        f.City,
		PostalCode:  f.PostalCode,
		Country:     f.Country,
	}
}

// CheckoutDraft is the sanitized form persisted while a push payment is in flight.
type CheckoutDraft struct {
	UserID    string
	CartID    string
	Form      CheckoutForm
	SavedAt   time.Time
	ExpiresAt time.Time
}

// Expired reports whether the draft outlived its retention window.
func (d CheckoutDraft) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// PaymentSessionStatus tracks a single push-payment attempt.
type PaymentSessionStatus string

const (
	PaymentSessionPending   PaymentSessionStatus = "pending"
	PaymentSessionSuccess   PaymentSessionStatus = "success"
	PaymentSessionCancelled PaymentSessionStatus = "cancelled"
	PaymentSessionFailed    PaymentSessionStatus = "failed"
	PaymentSessionTimeout   PaymentSessionStatus = "timeout"
	PaymentSessionError     PaymentSessionStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s PaymentSessionStatus) Terminal() bool {
	return s != PaymentSessionPending && s != ""
}

// Failed reports whether the attempt ended without a payment.
func (s PaymentSessionStatus) Failed() bool {
	switch s {
	case PaymentSessionCancelled, PaymentSessionFailed, PaymentSessionTimeout, PaymentSessionError:
		return true
	}
	return false
}

// PaymentSession is one push payment attempt, keyed by the gateway tracking handle.
type PaymentSession struct {
	Handle         string
	Status         PaymentSessionStatus
	Attempts       int
	LastResultCode *int
	Message        string
	StartedAt      time.Time
	ResolvedAt     time.Time
}
