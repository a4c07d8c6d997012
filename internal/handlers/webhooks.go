package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// PaymentWebhookHandlers receives asynchronous payment gateway callbacks.
type PaymentWebhookHandlers struct {
	callbacks services.PaymentCallbackService
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(callbacks services.PaymentCallbackService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{callbacks: callbacks}
}

// Routes registers webhook endpoints under the /webhooks group.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/mpesa/callback", h.mpesaCallback)
}

// Daraja only checks that the acknowledgement parses; the body mirrors its documented shape.
type mpesaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (h *PaymentWebhookHandlers) mpesaCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.callbacks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment callbacks unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read body", http.StatusBadRequest))
		return
	}
	if len(body) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
		return
	}

	callback, err := payments.ParseMpesaCallback(body)
	if err != nil {
		requestctx.Logger(ctx).Warn("mpesa callback rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_callback", "callback payload is invalid", http.StatusBadRequest))
		return
	}

	txn, err := h.callbacks.RecordPushResult(ctx, services.PushCallback{
		CheckoutRequestID: callback.CheckoutRequestID,
		MerchantRequestID: callback.MerchantRequestID,
		ResultCode:        callback.ResultCode,
		ResultDesc:        callback.ResultDesc,
		Amount:            callback.Amount,
		ReceiptNumber:     callback.ReceiptNumber,
		PhoneNumber:       callback.PhoneNumber,
	})
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_callback", "callback is missing the checkout request id", http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment callbacks unavailable", http.StatusServiceUnavailable))
		return
	case err != nil:
		requestctx.Logger(ctx).Error("mpesa callback not recorded", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to record callback", http.StatusInternalServerError))
		return
	}

	requestctx.Logger(ctx).Info("mpesa callback recorded",
		zap.String("checkout_request_id", txn.CheckoutRequestID),
		zap.Int("result_code", txn.ResultCode),
		zap.String("status", string(txn.Status)),
	)
	writeJSONResponse(w, http.StatusOK, mpesaAck{ResultCode: 0, ResultDesc: "Accepted"})
}
