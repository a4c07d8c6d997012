package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidCallback is returned when a callback body has neither Body.stkCallback nor stkCallback.
var ErrInvalidCallback = errors.New("payments: invalid mpesa callback payload")

// MpesaCallback is the normalised STK push result delivered by Daraja.
type MpesaCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            decimal.Decimal
	ReceiptNumber     string
	PhoneNumber       string
}

// Succeeded reports whether the shopper completed the payment.
func (c MpesaCallback) Succeeded() bool {
	return c.ResultCode == 0
}

type stkCallbackEnvelope struct {
	Body *struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
	StkCallback *stkCallback `json:"stkCallback"`
}

type stkCallback struct {
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []struct {
			Name  string          `json:"Name"`
			Value json.RawMessage `json:"Value"`
		} `json:"Item"`
	} `json:"CallbackMetadata"`
}

// ParseMpesaCallback decodes a Daraja callback. Both the standard {"Body":{"stkCallback":…}} shape and
// a bare {"stkCallback":…} are accepted. Successful callbacks must carry Amount, MpesaReceiptNumber and
// PhoneNumber metadata.
func ParseMpesaCallback(payload []byte) (MpesaCallback, error) {
	var envelope stkCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return MpesaCallback{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	cb := envelope.StkCallback
	if envelope.Body != nil && envelope.Body.StkCallback != nil {
		cb = envelope.Body.StkCallback
	}
	if cb == nil || strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return MpesaCallback{}, fmt.Errorf("%w: missing stkCallback", ErrInvalidCallback)
	}
	code, err := rawInt(cb.ResultCode)
	if err != nil {
		return MpesaCallback{}, fmt.Errorf("%w: result code: %v", ErrInvalidCallback, err)
	}

	out := MpesaCallback{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
	}
	if code != 0 {
		return out, nil
	}
	if cb.CallbackMetadata == nil {
		return MpesaCallback{}, fmt.Errorf("%w: missing CallbackMetadata", ErrInvalidCallback)
	}

	seen := map[string]bool{}
	for _, item := range cb.CallbackMetadata.Item {
		value := rawString(item.Value)
		switch item.Name {
		case "Amount":
			amount, err := decimal.NewFromString(value)
			if err != nil {
				return MpesaCallback{}, fmt.Errorf("%w: amount: %v", ErrInvalidCallback, err)
			}
			out.Amount = amount
		case "MpesaReceiptNumber":
			out.ReceiptNumber = value
		case "PhoneNumber":
			out.PhoneNumber = value
		default:
			continue
		}
		seen[item.Name] = true
	}
	for _, required := range []string{"Amount", "MpesaReceiptNumber", "PhoneNumber"} {
		if !seen[required] {
			return MpesaCallback{}, fmt.Errorf("%w: missing %s", ErrInvalidCallback, required)
		}
	}
	return out, nil
}

// rawString renders a JSON scalar without quotes. Numbers keep their literal text so
// phone numbers like 254708374149 are not mangled by float conversion.
func rawString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		return unquoted
	}
	return trimmed
}

func rawInt(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing")
	}
	return strconv.Atoi(rawString(raw))
}
