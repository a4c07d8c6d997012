package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/checkout/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"

	groupCheckout = "checkout"
	groupOrders   = "orders"
	groupWebhooks = "webhooks"
	groupInternal = "internal"
)

// mountOrder fixes the order groups are mounted under the API prefix.
var mountOrder = []string{groupCheckout, groupOrders, groupWebhooks, groupInternal}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &routeGroup{}
		c.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router: health probes at the root and the checkout, orders,
// webhooks and internal groups under the API prefix. A group without a registrar answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		timeout:  defaultTimeout,
		groups:   make(map[string]*routeGroup, len(mountOrder)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	useAll(r, cfg.middlewares)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range mountOrder {
			g := cfg.group(name)
			api.Route("/"+name, func(sub chi.Router) {
				useAll(sub, g.middlewares)
				if g.registrar == nil {
					registerNotImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})

	return r
}

func useAll(r chi.Router, mws []func(http.Handler) http.Handler) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// WithBasePath mounts the route groups under prefix instead of /api/v1.
func WithBasePath(prefix string) Option {
	return func(cfg *routerConfig) {
		prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix != "/" {
			cfg.basePath = prefix
		}
	}
}

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithMiddlewares appends global middleware, applied after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCheckoutRoutes registers the /checkout group.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupCheckout, reg) }

// WithOrderRoutes registers the /orders group.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupOrders, reg) }

// WithWebhookRoutes registers the /webhooks group used by payment gateways.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupWebhooks, reg) }

// WithInternalRoutes registers the /internal group used by schedulers.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroupRoutes(groupInternal, reg) }

// WithWebhookMiddlewares guards the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupWebhooks, mw)
}

// WithInternalMiddlewares guards the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(groupInternal, mw)
}

func withGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(name).registrar = reg
	}
}

func withGroupMiddlewares(name string, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func registerNotImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
