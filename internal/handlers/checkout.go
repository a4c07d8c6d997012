package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

// CheckoutHandlers exposes the server-side checkout session to authenticated shoppers.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency guards order placement and payment retry with the given middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// WithPaymentRateLimit caps order placement and payment retries to limit calls per shopper
// within window. A non-positive limit disables the cap.
func WithPaymentRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newWindowLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the /checkout group.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/delivery-areas", h.deliveryAreas)

	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/session", h.startSession)
	group.Get("/session", h.getSession)
	group.Delete("/session", h.abandonSession)
	group.Patch("/session/form", h.updateForm)
	group.Post("/session:next", h.nextStep)
	group.Post("/session:back", h.previousStep)
	group.Post("/session/payment:close", h.closePaymentDialog)

	payment := group
	if h.limiter != nil {
		payment = payment.With(rateLimitByCaller(h.limiter))
	}
	if h.idempotency != nil {
		payment = payment.With(h.idempotency)
	}
	payment.Post("/session:place-order", h.placeOrder)
	payment.Post("/session/payment:retry", h.retryPayment)
}

type formPatchRequest struct {
	FullName         *string `json:"fullName"`
	Email            *string `json:"email"`
	PhoneNumber      *string `json:"phoneNumber"`
	Address          *string `json:"address"`
	City             *string `json:"city"`
	PostalCode       *string `json:"postalCode"`
	Country          *string `json:"country"`
	IsPickup         *bool   `json:"isPickup"`
	DeliveryLocation *string `json:"deliveryLocation"`
	PaymentMethod    *string `json:"paymentMethod"`
	OrderNotes       *string `json:"orderNotes"`
}

func (req formPatchRequest) toPatch() services.FormPatch {
	patch := services.FormPatch{
		FullName:         req.FullName,
		Email:            req.Email,
		PhoneNumber:      req.PhoneNumber,
		Address:          req.Address,
		City:             req.City,
		PostalCode:       req.PostalCode,
		Country:          req.Country,
		IsPickup:         req.IsPickup,
		DeliveryLocation: req.DeliveryLocation,
		OrderNotes:       req.OrderNotes,
	}
	if req.PaymentMethod != nil {
		method := domain.PaymentMethod(strings.TrimSpace(*req.PaymentMethod))
		patch.PaymentMethod = &method
	}
	return patch
}

type backRequest struct {
	Step *int `json:"step"`
}

type cartItemPayload struct {
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	Name          string `json:"name"`
	Quantity      int    `json:"quantity"`
	Price         string `json:"price"`
	DiscountPrice string `json:"discountPrice,omitempty"`
	UnitPrice     string `json:"unitPrice"`
}

type cartPayload struct {
	ID        string            `json:"id"`
	ItemCount int               `json:"itemCount"`
	Items     []cartItemPayload `json:"items"`
}

type formPayload struct {
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	PhoneNumber      string `json:"phoneNumber"`
	Address          string `json:"address"`
	City             string `json:"city"`
	PostalCode       string `json:"postalCode"`
	Country          string `json:"country"`
	IsPickup         bool   `json:"isPickup"`
	DeliveryLocation string `json:"deliveryLocation"`
	DeliveryFee      string `json:"deliveryFee"`
	PaymentMethod    string `json:"paymentMethod"`
	OrderNotes       string `json:"orderNotes"`
}

type totalsPayload struct {
	Subtotal    string `json:"subtotal"`
	DeliveryFee string `json:"deliveryFee"`
	OrderTotal  string `json:"orderTotal"`
}

type paymentSessionPayload struct {
	Handle         string `json:"handle"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	LastResultCode *int   `json:"lastResultCode,omitempty"`
	Message        string `json:"message,omitempty"`
	StartedAt      string `json:"startedAt,omitempty"`
	ResolvedAt     string `json:"resolvedAt,omitempty"`
}

type checkoutSessionPayload struct {
	AttemptID         string                 `json:"attemptId,omitempty"`
	Step              string                 `json:"step"`
	StepIndex         int                    `json:"stepIndex"`
	Display           string                 `json:"display"`
	Submitting        bool                   `json:"submitting"`
	Cart              cartPayload            `json:"cart"`
	Form              formPayload            `json:"form"`
	Totals            totalsPayload          `json:"totals"`
	Payment           *paymentSessionPayload `json:"payment,omitempty"`
	PaymentDialogOpen bool                   `json:"paymentDialogOpen"`
	Order             *orderPayload          `json:"order,omitempty"`
	CardPaymentURL    string                 `json:"cardPaymentUrl,omitempty"`
	LastError         string                 `json:"lastError,omitempty"`
	UpdatedAt         string                 `json:"updatedAt,omitempty"`
}

type deliveryAreaPayload struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Fee   string `json:"fee"`
}

type deliveryAreaGroupPayload struct {
	Name  string                `json:"name"`
	Areas []deliveryAreaPayload `json:"areas"`
}

func (h *CheckoutHandlers) deliveryAreas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}
	groups := h.checkout.DeliveryAreas(ctx)
	payload := make([]deliveryAreaGroupPayload, 0, len(groups))
	for _, group := range groups {
		areas := make([]deliveryAreaPayload, 0, len(group.Areas))
		for _, area := range group.Areas {
			areas = append(areas, deliveryAreaPayload{
				Value: area.Value,
				Label: area.Label,
				Fee:   formatAmount(area.Fee),
			})
		}
		payload = append(payload, deliveryAreaGroupPayload{Name: group.Name, Areas: areas})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"groups": payload})
}

func (h *CheckoutHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusCreated, func(ctx context.Context, uid string) (services.CheckoutSnapshot, error) {
		return h.checkout.Start(ctx, uid)
	})
}

func (h *CheckoutHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, uid string) (services.CheckoutSnapshot, error) {
		return h.checkout.Snapshot(ctx, uid)
	})
}

func (h *CheckoutHandlers) updateForm(w http.ResponseWriter, r *http.Request) {
	var req formPatchRequest
	if !decodeBody(r.Context(), w, r, &req) {
		return
	}
	h.run(w, r, http.StatusOK, func(ctx context.Context, uid string) (services.CheckoutSnapshot, error) {
		return h.checkout.UpdateForm(ctx, uid, req.toPatch())
	})
}

func (h *CheckoutHandlers) nextStep(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, uid string) (services.CheckoutSnapshot, error) {
		return h.checkout.Next(ctx, uid)
	})
}

func (h *CheckoutHandlers) previousStep(w http.ResponseWriter, r *http.Request) {
	var req backRequest
	if !decodeBody(r.Context(), w, r, &req) {
		return
	}
	var target *domain.CheckoutStep
	if req.Step != nil {
		step := domain.CheckoutStep(*req.Step)
		if !step.Valid() {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "step must be 0, 1 or 2", http.StatusBadRequest))
			return
		}
		target = &step
	}
	h.run(w, r, http.StatusOK, func(ctx context.Context, uid string) (services.CheckoutSnapshot, error) {
		return h.checkout.Back(ctx, uid, target)
	})
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, uid string) (services.CheckoutSnapshot, error) {
		return h.checkout.PlaceOrder(ctx, uid)
	})
}

func (h *CheckoutHandlers) closePaymentDialog(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, uid string) (services.CheckoutSnapshot, error) {
		return h.checkout.ClosePaymentDialog(ctx, uid)
	})
}

func (h *CheckoutHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, func(ctx context.Context, uid string) (services.CheckoutSnapshot, error) {
		return h.checkout.RetryPayment(ctx, uid)
	})
}

func (h *CheckoutHandlers) abandonSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}
	uid, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	if err := h.checkout.Abandon(ctx, uid); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) run(w http.ResponseWriter, r *http.Request, status int, op func(ctx context.Context, uid string) (services.CheckoutSnapshot, error)) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}
	uid, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	snap, err := op(ctx, uid)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, status, buildCheckoutSessionPayload(snap))
}

func buildCheckoutSessionPayload(snap services.CheckoutSnapshot) checkoutSessionPayload {
	items := make([]cartItemPayload, 0, len(snap.Cart.Items))
	for _, item := range snap.Cart.Items {
		line := cartItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     formatAmount(item.Price),
			UnitPrice: formatAmount(item.UnitPrice()),
		}
		if item.DiscountPrice != nil {
			line.DiscountPrice = formatAmount(*item.DiscountPrice)
		}
		items = append(items, line)
	}

	form := snap.Form
	payload := checkoutSessionPayload{
		AttemptID:  snap.AttemptID,
		Step:       snap.Step.String(),
		StepIndex:  int(snap.Step),
		Display:    string(snap.Display),
		Submitting: snap.Submitting,
		Cart: cartPayload{
			ID:        snap.Cart.ID,
			ItemCount: snap.Cart.ItemCount,
			Items:     items,
		},
		Form: formPayload{
			FullName:         form.FullName,
			Email:            form.Email,
			PhoneNumber:      form.PhoneNumber,
			Address:          form.Address,
			City:             form.City,
			PostalCode:       form.PostalCode,
			Country:          form.Country,
			IsPickup:         form.IsPickup,
			DeliveryLocation: form.DeliveryLocation,
			DeliveryFee:      formatAmount(form.DeliveryFee),
			PaymentMethod:    string(form.PaymentMethod),
			OrderNotes:       form.OrderNotes,
		},
		Totals:            buildTotalsPayload(snap.Totals),
		PaymentDialogOpen: snap.PaymentDialogOpen,
		CardPaymentURL:    snap.CardPaymentURL,
		LastError:         snap.LastError,
		UpdatedAt:         formatTime(snap.UpdatedAt),
	}
	if p := snap.Payment; p != nil {
		payload.Payment = &paymentSessionPayload{
			Handle:         p.Handle,
			Status:         string(p.Status),
			Attempts:       p.Attempts,
			LastResultCode: p.LastResultCode,
			Message:        p.Message,
			StartedAt:      formatTime(p.StartedAt),
			ResolvedAt:     formatTime(p.ResolvedAt),
		}
	}
	if snap.Order != nil {
		order := buildOrderPayload(*snap.Order)
		payload.Order = &order
	}
	return payload
}

func buildTotalsPayload(totals domain.Totals) totalsPayload {
	return totalsPayload{
		Subtotal:    formatAmount(totals.Subtotal),
		DeliveryFee: formatAmount(totals.DeliveryFee),
		OrderTotal:  formatAmount(totals.OrderTotal),
	}
}

func writeCheckoutUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var (
		validationErr *services.ValidationError
		missingErr    *services.MissingFieldsError
		gatewayErr    *services.GatewayRejectedError
		submissionErr *services.OrderSubmissionError
	)
	switch {
	case errors.As(err, &validationErr):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "some fields need attention", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"step": validationErr.Step.String(), "fields": validationErr.Fields}))
	case errors.As(err, &missingErr):
		httpx.WriteError(ctx, w, httpx.NewError("missing_fields", "required payment details are missing", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"missing_fields": missingErr.Fields}))
	case errors.As(err, &gatewayErr):
		httpx.WriteError(ctx, w, httpx.NewError("payment_rejected", gatewayErr.Message, http.StatusBadGateway))
	case errors.As(err, &submissionErr) && len(submissionErr.Fields) > 0:
		httpx.WriteError(ctx, w, httpx.NewError("order_rejected", "the order could not be created", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": submissionErr.Fields}))
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrPaymentMethodNotPush):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_session_not_found", "no checkout session in progress", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "your cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutStepTransition),
		errors.Is(err, services.ErrCheckoutFinalStep),
		errors.Is(err, services.ErrCheckoutNotAtReview):
		httpx.WriteError(ctx, w, httpx.NewError("step_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutSubmissionInFlight),
		errors.Is(err, services.ErrCheckoutPaymentPending):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutOrderPlaced):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_placed", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutNoFailedPayment), errors.Is(err, services.ErrCheckoutDraftMissing):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutCartUnavailable), errors.Is(err, services.ErrCheckoutUnavailable):
		writeCheckoutUnavailable(ctx, w)
	case errors.Is(err, services.ErrCheckoutOrderFailed):
		requestctx.Logger(ctx).Error("order submission failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_failed", "the order could not be created", http.StatusInternalServerError))
	default:
		requestctx.Logger(ctx).Error("checkout request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
