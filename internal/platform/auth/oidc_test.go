package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

type recordingMetrics struct {
	mu      sync.Mutex
	reasons []string
}

func (m *recordingMetrics) RecordVerification(_ context.Context, success bool, reason string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
}

func (m *recordingMetrics) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reasons) == 0 {
		return ""
	}
	return m.reasons[len(m.reasons)-1]
}

type jwksServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests int
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *jwksServer {
	t.Helper()
	srv := &jwksServer{}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: kid, Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.mu.Lock()
		srv.requests++
		srv.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestJWKSCacheCachesKeys(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t, key, "key1")
	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(srv.URL, WithJWKSClock(func() time.Time { return now }))

	for i := 0; i < 2; i++ {
		got, err := cache.Key(context.Background(), "key1")
		if err != nil {
			t.Fatalf("cache.Key: %v", err)
		}
		if _, ok := got.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", got)
		}
	}
	if srv.requests != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", srv.requests)
	}

	now = now.Add(2 * time.Hour)
	if _, err := cache.Key(context.Background(), "key1"); err != nil {
		t.Fatalf("cache.Key after expiry: %v", err)
	}
	if srv.requests != 2 {
		t.Fatalf("expected refetch after max-age, got %d", srv.requests)
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=600, must-revalidate"); got != 10*time.Minute {
		t.Fatalf("expected 10m, got %s", got)
	}
	if got := maxAge("no-cache"); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}

func TestRequireOIDC(t *testing.T) {
	cases := []struct {
		name     string
		audience string
		mutate   func(jwt.MapClaims)
		header   string
		status   int
		reason   string
	}{
		{name: "success", audience: "https://checkout.example.com", header: "Authorization", status: http.StatusNoContent, reason: "ok"},
		{name: "iap header", audience: "https://checkout.example.com", header: "X-Goog-Iap-Jwt-Assertion", status: http.StatusNoContent, reason: "ok"},
		{name: "audience mismatch", audience: "https://other.example.com", header: "Authorization", status: http.StatusUnauthorized, reason: "audience_mismatch"},
		{name: "issuer mismatch", audience: "https://checkout.example.com", header: "Authorization", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, status: http.StatusUnauthorized, reason: "issuer_mismatch"},
		{name: "expired", audience: "https://checkout.example.com", header: "Authorization", mutate: func(c jwt.MapClaims) { c["exp"] = float64(time.Now().Add(-time.Hour).Unix()) }, status: http.StatusUnauthorized, reason: "token_invalid"},
		{name: "missing token", audience: "https://checkout.example.com", status: http.StatusUnauthorized, reason: "token_missing"},
		{name: "no audience configured", audience: "", header: "Authorization", status: http.StatusServiceUnavailable, reason: "audience_not_configured"},
	}

	key := generateKey(t)
	srv := newJWKSServer(t, key, "svc-key")

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			validator := NewOIDCValidator(NewJWKSCache(srv.URL), WithOIDCMetrics(metrics))
			token := signToken(t, key, "svc-key", tc.mutate)

			req := httptest.NewRequest(http.MethodPost, "/internal/maintenance:sweep", nil)
			switch tc.header {
			case "Authorization":
				req.Header.Set("Authorization", "Bearer "+token)
			case "X-Goog-Iap-Jwt-Assertion":
				req.Header.Set("X-Goog-Iap-Jwt-Assertion", token)
			}
			rr := httptest.NewRecorder()
			validator.RequireOIDC(tc.audience, []string{"https://accounts.google.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, ok := ServiceIdentityFromContext(r.Context())
				if !ok || identity.Email != "scheduler@example.iam.gserviceaccount.com" {
					t.Fatalf("unexpected identity %+v", identity)
				}
				if requestctx.Caller(r.Context()) != identity.Email {
					t.Fatalf("expected caller to be the service account email")
				}
				w.WriteHeader(http.StatusNoContent)
			})).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d (%s)", tc.status, rr.Code, rr.Body.String())
			}
			if got := metrics.last(); got != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, got)
			}
		})
	}
}

func TestRequireOIDCJWKSUnavailable(t *testing.T) {
	key := generateKey(t)
	metrics := &recordingMetrics{}
	validator := NewOIDCValidator(NewJWKSCache("http://127.0.0.1:1/jwks"), WithOIDCMetrics(metrics))

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance:sweep", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "svc-key", nil))
	rr := httptest.NewRecorder()
	validator.RequireOIDC("https://checkout.example.com", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if metrics.last() != "jwks_unavailable" {
		t.Fatalf("expected jwks_unavailable, got %q", metrics.last())
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, mutate func(jwt.MapClaims)) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"aud":   "https://checkout.example.com",
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@example.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
