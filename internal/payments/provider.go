package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable is returned when the gateway cannot be reached or the breaker is open.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// PushRequest asks the gateway to prompt the shopper's phone for payment.
type PushRequest struct {
	Method           string
	PhoneNumber      string
	Amount           decimal.Decimal
	CartID           string
	DeliveryFee      decimal.Decimal
	AccountReference string
	Description      string
}

// PushInitiation is the gateway's answer to a push request. Success=false carries a
// shopper-facing Message and no Handle.
type PushInitiation struct {
	Success           bool
	Handle            string
	MerchantRequestID string
	Message           string
	Provider          string
}

// PushStatus is one status query result. ResultCode is nil while the gateway is still processing.
type PushStatus struct {
	Handle     string
	ResultCode *int
	ResultDesc string
}

// PushGateway is implemented by push-payment adapters.
type PushGateway interface {
	InitiatePush(ctx context.Context, req PushRequest) (PushInitiation, error)
	QueryPush(ctx context.Context, handle string) (PushStatus, error)
}

// CheckoutLineItem describes a single line item to include in a hosted checkout session.
type CheckoutLineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
	Currency string
}

// CheckoutSessionRequest captures the payload required to create a hosted card checkout.
// Amounts are in the currency's minor unit.
type CheckoutSessionRequest struct {
	OrderID        string
	CustomerEmail  string
	Currency       string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession is the hosted checkout the shopper is redirected to.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// CardProvider creates hosted card checkout sessions.
type CardProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

// Manager routes payment calls to the adapter registered for a payment method.
type Manager struct {
	push         map[string]PushGateway
	cards        map[string]CardProvider
	methodRoutes map[string]string
	defaultPush  string
	defaultCard  string

	handles sync.Map // push handle -> provider key
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithPushGateway registers a push adapter. The first one registered becomes the default.
func WithPushGateway(key string, gateway PushGateway) ManagerOption {
	return func(m *Manager) {
		key = normaliseKey(key)
		if key == "" || gateway == nil {
			return
		}
		m.push[key] = gateway
		if m.defaultPush == "" {
			m.defaultPush = key
		}
	}
}

// WithCardProvider registers a hosted card checkout adapter. The first one registered becomes the default.
func WithCardProvider(key string, provider CardProvider) ManagerOption {
	return func(m *Manager) {
		key = normaliseKey(key)
		if key == "" || provider == nil {
			return
		}
		m.cards[key] = provider
		if m.defaultCard == "" {
			m.defaultCard = key
		}
	}
}

// WithMethodRoutes maps payment method values (e.g. "M-Pesa") to provider keys.
func WithMethodRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for method, key := range routes {
			m.methodRoutes[strings.ToUpper(strings.TrimSpace(method))] = normaliseKey(key)
		}
	}
}

// NewManager constructs a Manager over the supplied adapters.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		push:         make(map[string]PushGateway),
		cards:        make(map[string]CardProvider),
		methodRoutes: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.push) == 0 && len(m.cards) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	for method, key := range m.methodRoutes {
		_, isPush := m.push[key]
		_, isCard := m.cards[key]
		if !isPush && !isCard {
			return nil, fmt.Errorf("payments: route for %q targets unknown provider %q", method, key)
		}
	}
	return m, nil
}

// HasCardProvider reports whether hosted card checkout is available.
func (m *Manager) HasCardProvider() bool {
	return m != nil && len(m.cards) > 0
}

func (m *Manager) resolvePush(method string) (string, PushGateway, error) {
	if m == nil {
		return "", nil, ErrUnsupportedProvider
	}
	if key, ok := m.methodRoutes[strings.ToUpper(strings.TrimSpace(method))]; ok {
		if gw, ok := m.push[key]; ok {
			return key, gw, nil
		}
	}
	if gw, ok := m.push[m.defaultPush]; ok {
		return m.defaultPush, gw, nil
	}
	return "", nil, ErrUnsupportedProvider
}

// InitiatePush delegates to the push adapter routed for req.Method and remembers which adapter owns the handle.
func (m *Manager) InitiatePush(ctx context.Context, req PushRequest) (PushInitiation, error) {
	key, gw, err := m.resolvePush(req.Method)
	if err != nil {
		return PushInitiation{}, err
	}
	result, err := gw.InitiatePush(ctx, req)
	if err != nil {
		return PushInitiation{}, err
	}
	result.Provider = key
	if result.Success && result.Handle != "" {
		m.handles.Store(result.Handle, key)
	}
	return result, nil
}

// QueryPush asks the adapter that issued handle for its status.
func (m *Manager) QueryPush(ctx context.Context, handle string) (PushStatus, error) {
	key := m.defaultPush
	if owner, ok := m.handles.Load(handle); ok {
		key = owner.(string)
	}
	gw, ok := m.push[key]
	if !ok {
		return PushStatus{}, ErrUnsupportedProvider
	}
	return gw.QueryPush(ctx, handle)
}

// ForgetPush drops the handle routing entry once polling is over.
func (m *Manager) ForgetPush(handle string) {
	m.handles.Delete(handle)
}

// CreateCheckoutSession delegates to the card provider routed for method.
func (m *Manager) CreateCheckoutSession(ctx context.Context, method string, req CheckoutSessionRequest) (CheckoutSession, error) {
	if m == nil {
		return CheckoutSession{}, ErrUnsupportedProvider
	}
	key := m.defaultCard
	if routed, ok := m.methodRoutes[strings.ToUpper(strings.TrimSpace(method))]; ok {
		key = routed
	}
	provider, ok := m.cards[key]
	if !ok {
		return CheckoutSession{}, ErrUnsupportedProvider
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
