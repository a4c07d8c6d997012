package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	defaultCountryCode      = "254"
	defaultDraftTTL         = 24 * time.Hour
	defaultAccountReference = "Storefront"
	pushTransportMessage    = "An error occurred while processing M-Pesa payment"
	pushRejectedMessage     = "Failed to send STK push. Please try again."
	minNationalDigits       = 7
	maxNationalDigits       = 12
)

type pushInitiator interface {
	InitiatePush(ctx context.Context, req payments.PushRequest) (payments.PushInitiation, error)
}

// PaymentInitiatorDeps wires the payment initiator.
type PaymentInitiatorDeps struct {
	Gateway          pushInitiator
	Drafts           repositories.DraftRepository
	Fees             *DeliveryFeeResolver
	Sanitizer        *DraftSanitizer
	CountryCode      string
	AccountReference string
	DraftTTL         time.Duration
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

// InitiatePaymentCommand is the input for a push payment.
type InitiatePaymentCommand struct {
	UserID  string
	Cart    domain.Cart
	Form    domain.CheckoutForm
	Profile *domain.Profile
}

// PaymentInitiation is the outcome of a successful push request.
type PaymentInitiation struct {
	Session domain.PaymentSession
	Draft   domain.CheckoutDraft
	Totals  domain.Totals
}

// PaymentInitiator validates the merged shipping details, persists the draft and asks the gateway to push.
type PaymentInitiator struct {
	gateway          pushInitiator
	drafts           repositories.DraftRepository
	fees             *DeliveryFeeResolver
	sanitizer        *DraftSanitizer
	countryCode      string
	accountReference string
	draftTTL         time.Duration
	now              func() time.Time
	logger           func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentInitiator validates dependencies and applies defaults.
func NewPaymentInitiator(deps PaymentInitiatorDeps) (*PaymentInitiator, error) {
	if deps.Gateway == nil {
		return nil, errors.New("payment initiator: gateway is required")
	}
	if deps.Drafts == nil {
		return nil, errors.New("payment initiator: draft repository is required")
	}
	fees := deps.Fees
	if fees == nil {
		fees = NewDeliveryFeeResolver(nil)
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = NewDraftSanitizer()
	}
	cc := strings.TrimSpace(deps.CountryCode)
	if cc == "" {
		cc = defaultCountryCode
	}
	reference := strings.TrimSpace(deps.AccountReference)
	if reference == "" {
		reference = defaultAccountReference
	}
	ttl := deps.DraftTTL
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentInitiator{
		gateway:          deps.Gateway,
		drafts:           deps.Drafts,
		fees:             fees,
		sanitizer:        sanitizer,
		countryCode:      cc,
		accountReference: reference,
		draftTTL:         ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Initiate runs the pre-flight check, saves the draft and requests the push.
// No PaymentSession is returned unless the gateway accepted the request.
func (p *PaymentInitiator) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PaymentInitiation{}, ErrCheckoutInvalidInput
	}
	if !cmd.Form.PaymentMethod.IsPush() {
		return PaymentInitiation{}, ErrPaymentMethodNotPush
	}

	merged := mergeProfile(cmd.Form, cmd.Profile)
	missing := p.missingFields(merged)
	phone, ok := NormalizePhoneNumber(merged.PhoneNumber, p.countryCode)
	if merged.PhoneNumber != "" && !ok {
		missing = append(missing, fieldPhoneNumber)
	}
	if len(missing) > 0 {
		p.logger(ctx, "checkout.payment.preflight_failed", map[string]any{
			"userId":        userID,
			"missingFields": missing,
		})
		return PaymentInitiation{}, &MissingFieldsError{Fields: missing}
	}
	merged.PhoneNumber = phone
	merged.DeliveryFee = p.fees.FeeFor(merged.IsPickup, merged.DeliveryLocation)
	totals := CalculateTotals(cmd.Cart, merged.DeliveryFee)

	now := p.now()
	draft := domain.CheckoutDraft{
		UserID:    userID,
		CartID:    cmd.Cart.ID,
		Form:      p.sanitizer.Form(merged),
		SavedAt:   now,
		ExpiresAt: now.Add(p.draftTTL),
	}
	if err := p.drafts.Save(ctx, draft); err != nil {
		p.logger(ctx, "checkout.payment.draft_save_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
		return PaymentInitiation{}, errors.Join(ErrCheckoutUnavailable, err)
	}

	result, err := p.gateway.InitiatePush(ctx, payments.PushRequest{
		Method:           string(merged.PaymentMethod),
		PhoneNumber:      phone,
		Amount:           totals.OrderTotal,
		CartID:           cmd.Cart.ID,
		DeliveryFee:      totals.DeliveryFee,
		AccountReference: p.accountReference,
		Description:      "Order payment",
	})
	if err != nil {
		p.logger(ctx, "checkout.payment.push_failed", map[string]any{
			"userId": userID,
			"cartId": cmd.Cart.ID,
			"error":  err.Error(),
		})
		return PaymentInitiation{}, &GatewayRejectedError{Message: pushTransportMessage, Err: err}
	}
	if !result.Success || strings.TrimSpace(result.Handle) == "" {
		message := strings.TrimSpace(result.Message)
		if message == "" {
			message = pushRejectedMessage
		}
		p.logger(ctx, "checkout.payment.push_rejected", map[string]any{
			"userId":  userID,
			"cartId":  cmd.Cart.ID,
			"message": message,
		})
		return PaymentInitiation{}, &GatewayRejectedError{Message: message}
	}

	p.logger(ctx, "checkout.payment.push_sent", map[string]any{
		"userId":            userID,
		"cartId":            cmd.Cart.ID,
		"checkoutRequestId": result.Handle,
		"amount":            totals.OrderTotal.StringFixed(2),
	})
	return PaymentInitiation{
		Session: domain.PaymentSession{
			Handle:    result.Handle,
			Status:    domain.PaymentSessionPending,
			Message:   result.Message,
			StartedAt: now,
		},
		Draft:  draft,
		Totals: totals,
	}, nil
}

func (p *PaymentInitiator) missingFields(form domain.CheckoutForm) []string {
	var missing []string
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
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if !form.IsPickup {
		if _, ok := p.fees.Lookup(form.DeliveryLocation); !ok {
			missing = append(missing, fieldDeliveryLocation)
		}
	}
	return missing
}

// mergeProfile fills blank form fields from the saved profile. Values are trimmed.
func mergeProfile(form domain.CheckoutForm, profile *domain.Profile) domain.CheckoutForm {
	var p domain.Profile
	if profile != nil {
		p = *profile
	}
	pick := func(primary, fallback string) string {
		if v := strings.TrimSpace(primary); v != "" {
			return v
		}
		return strings.TrimSpace(fallback)
	}
	out := form
	out.FullName = pick(form.FullName, p.FullName())
	out.Email = pick(form.Email, p.Email)
	out.PhoneNumber = pick(form.PhoneNumber, p.PhoneNumber)
	out.Address = pick(form.Address, p.Address)
	out.City = pick(form.City, p.City)
	out.PostalCode = pick(form.PostalCode, p.PostalCode)
	out.Country = pick(form.Country, p.Country)
	if form.IsPickup {
		out.DeliveryLocation = ""
	} else {
		out.DeliveryLocation = pick(form.DeliveryLocation, p.DeliveryLocation)
	}
	return out
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// NormalizePhoneNumber converts a local or international number into the gateway's
// country-code-prefixed digit form, e.g. "0712 345-678" becomes "254712345678".
func NormalizePhoneNumber(raw, countryCode string) (string, bool) {
	digits := strings.TrimPrefix(phoneSeparators.Replace(strings.TrimSpace(raw)), "+")
	if digits == "" {
		return "", false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	national := strings.TrimLeft(digits, "0")
	if countryCode != "" && strings.HasPrefix(digits, countryCode) {
		national = strings.TrimPrefix(digits, countryCode)
	}
	if len(national) < minNationalDigits || len(national) > maxNationalDigits {
		return "", false
	}
	return countryCode + national, true
}
