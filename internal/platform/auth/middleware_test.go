package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuthAllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]any{
				"email":          "amina@example.com",
				"email_verified": true,
				"name":           "Amina Otieno",
				"phone_number":   "+254712345678",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "amina@example.com" || !identity.EmailVerified {
			t.Fatalf("unexpected identity: %+v", identity)
		}
		if identity.Name != "Amina Otieno" || identity.PhoneNumber != "+254712345678" {
			t.Fatalf("unexpected profile claims: %+v", identity)
		}
		if caller := requestctx.Caller(r.Context()); caller != "uid-123" {
			t.Fatalf("expected caller uid-123, got %q", caller)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run, got status %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuthRejections(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier *stubTokenVerifier
		code     string
	}{
		{name: "missing header", header: "", verifier: &stubTokenVerifier{}, code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", verifier: &stubTokenVerifier{}, code: "unauthenticated"},
		{name: "expired", header: "Bearer expired", verifier: &stubTokenVerifier{err: ErrTokenExpired}, code: "token_expired"},
		{name: "invalid", header: "Bearer bad", verifier: &stubTokenVerifier{err: errors.New("boom")}, code: "invalid_token"},
		{name: "no subject", header: "Bearer anon", verifier: &stubTokenVerifier{token: &firebaseauth.Token{Claims: map[string]any{}}}, code: "invalid_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler should not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestRequireCallbackToken(t *testing.T) {
	handler := RequireCallbackToken("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa/callback?token=wrong", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa/callback?token=s3cret", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for matching token, got %d", rr.Code)
	}

	open := RequireCallbackToken("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr = httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/mpesa/callback", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected disabled check to pass, got %d", rr.Code)
	}
}
