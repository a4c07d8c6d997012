package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/hanko-field/checkout/internal/platform/httpx"
)

// CallbackTokenParam is the query parameter carrying the shared callback token. Daraja does
// not sign its callbacks, so the token is embedded in the registered callback URL.
const CallbackTokenParam = "token"

// RequireCallbackToken rejects requests whose token query parameter does not match expected.
// An empty expected token disables the check.
func RequireCallbackToken(expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.URL.Query().Get(CallbackTokenParam))
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_callback_token", "callback token mismatch", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
