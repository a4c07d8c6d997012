package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/checkout/internal/domain"
)

func TestNewRouterDefaultMounts(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: domain.HealthReport{Status: domain.HealthStatusOK, GeneratedAt: now}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodPost, "/api/v1/checkout/session", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/orders", http.StatusNotImplemented},
		{http.MethodPost, "/api/v1/internal/maintenance:sweep", http.StatusNotImplemented},
		{http.MethodGet, "/api/v2/nothing", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rr.Code)
		}
	}
}

func TestNewRouterGroupMiddlewares(t *testing.T) {
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	svc := &stubMaintenanceService{}
	router := NewRouter(
		WithInternalRoutes(NewMaintenanceHandlers(svc).Routes),
		WithInternalMiddlewares(blocked),
		WithCheckoutRoutes(NewCheckoutHandlers(nil, &stubCheckoutService{}).Routes),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/maintenance:sweep", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden || svc.calls != 0 {
		t.Fatalf("expected internal middleware to block, got %d (calls %d)", rr.Code, svc.calls)
	}

	req = withUser(httptest.NewRequest(http.MethodGet, "/api/v1/checkout/session", nil), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected checkout routes mounted, got %d", rr.Code)
	}
}

func TestNewRouterBasePath(t *testing.T) {
	router := NewRouter(
		WithBasePath("shop/v2/"),
		WithOrderRoutes(func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
		}),
	)

	cases := map[string]int{
		"/shop/v2/orders": http.StatusTeapot,
		"/api/v1/orders":  http.StatusNotFound,
	}
	for path, status := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != status {
			t.Fatalf("GET %s: expected %d, got %d", path, status, rr.Code)
		}
	}
}
