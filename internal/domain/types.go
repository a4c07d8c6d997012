package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CartItem is a single cart line as returned by the cart collaborator.
type CartItem struct {
	ID            string
	ProductID     string
	Name          string
	Price         decimal.Decimal
	DiscountPrice *decimal.Decimal
	Quantity      int
}

// UnitPrice returns the discount price when one is set, otherwise the list price.
func (i CartItem) UnitPrice() decimal.Decimal {
	if i.DiscountPrice != nil {
		return *i.DiscountPrice
	}
	return i.Price
}

// Cart is the read-only snapshot of a shopper's cart.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	ItemCount int
	UpdatedAt time.Time
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool {
	return len(c.Items) == 0
}

// Profile holds the saved contact and address details used to pre-fill checkout.
type Profile struct {
	UserID           string
	FirstName        string
	LastName         string
	Email            string
	PhoneNumber      string
	Address          string
	City             string
	PostalCode       string
	Country          string
	DeliveryLocation string
}

// FullName joins first and last name. Either part missing yields an empty name.
func (p Profile) FullName() string {
	first := strings.TrimSpace(p.FirstName)
	last := strings.TrimSpace(p.LastName)
	if first == "" || last == "" {
		return ""
	}
	return first + " " + last
}

// PaymentMethod identifies how the shopper intends to pay.
type PaymentMethod string

const (
	// PaymentMethodMpesa is the mobile push payment method.
	PaymentMethodMpesa PaymentMethod = "M-Pesa"
	// PaymentMethodCreditCard is settled through a hosted card checkout.
	PaymentMethodCreditCard PaymentMethod = "CREDIT_CARD"
	// PaymentMethodPayPal is settled outside this service.
	PaymentMethodPayPal PaymentMethod = "PAYPAL"
	// PaymentMethodBankTransfer is settled outside this service.
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Valid reports whether the method is one of the recognised values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodMpesa, PaymentMethodCreditCard, PaymentMethodPayPal, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// IsPush reports whether the method requires a push-payment confirmation before the order exists.
func (m PaymentMethod) IsPush() bool {
	return m == PaymentMethodMpesa
}

// PaymentStatus is the payment state recorded on an order.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Totals holds the monetary summary shown on the review step and stored on the order.
type Totals struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	OrderTotal  decimal.Decimal
}

// ShippingDetails is the contact and address snapshot captured at checkout.
type ShippingDetails struct {
	FullName    string
	Email       string
	PhoneNumber string
	Address     string
	City        string
	PostalCode  string
	Country     string
}

// OrderItem snapshots a cart line at the time the order was placed.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     decimal.Decimal
	Total     decimal.Decimal
}

// Order is the persisted result of a completed checkout.
type Order struct {
	ID               string
	UserID           string
	CartID           string
	Shipping         ShippingDetails
	IsPickup         bool
	DeliveryLocation string
	Notes            string
	Items            []OrderItem
	Totals           Totals
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	Status           OrderStatus
	MpesaCheckoutID  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PaymentTransaction records a gateway callback for a push payment.
type PaymentTransaction struct {
	CheckoutRequestID string
	MerchantRequestID string
	ReceiptNumber     string
	PhoneNumber       string
	Amount            decimal.Decimal
	ResultCode        int
	ResultDesc        string
	Status            PaymentStatus
	ReceivedAt        time.Time
}

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the outcome of one dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for the readiness endpoint.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
