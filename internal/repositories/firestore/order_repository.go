package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	orderCollection = "orders"
	orderIDPrefix   = "ord_"
)

// OrderRepository stores orders in a top-level collection and empties the shopper's cart
// in the same transaction that creates the order.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	carts    *pfirestore.Collection[cartDocument]
	newID    func() string
	now      func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// OrderRepositoryOption customises the repository.
type OrderRepositoryOption func(*OrderRepository)

// WithOrderIDGenerator overrides order id generation.
func WithOrderIDGenerator(fn func() string) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithOrderClock overrides the clock used for createdAt.
func WithOrderClock(clock func() time.Time) OrderRepositoryOption {
	return func(r *OrderRepository) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, opts ...OrderRepositoryOption) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	repo := &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, orderCollection),
		carts:    pfirestore.NewCollection[cartDocument](provider, cartCollection),
		newID:    func() string { return orderIDPrefix + strings.ToLower(ulid.Make().String()) },
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// CreateOrder snapshots the cart lines into a new order and deletes them. The submitted
// subtotal must match the lines read inside the transaction.
func (r *OrderRepository) CreateOrder(ctx context.Context, submission repositories.OrderSubmission) (domain.Order, error) {
	uid := strings.TrimSpace(submission.UserID)
	if uid == "" {
		return domain.Order{}, &repositories.ValidationError{Fields: map[string][]string{"user": {"User is required"}}}
	}
	if cartID := strings.TrimSpace(submission.CartID); cartID != "" && cartID != uid {
		return domain.Order{}, &repositories.ValidationError{Fields: map[string][]string{"cart": {"Cart does not belong to this user"}}}
	}
	cartRef, err := r.carts.Doc(ctx, uid)
	if err != nil {
		return domain.Order{}, err
	}
	orderID := r.newID()
	orderRef, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var created domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(cartItemsQuery(cartRef)).GetAll()
		if err != nil {
			return err
		}
		lines, err := decodeCartItems(snaps)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return &repositories.ValidationError{Fields: map[string][]string{"cart": {"Cart is empty"}}}
		}

		now := r.now().UTC()
		order := buildOrder(orderID, uid, submission, lines, now)
		if !order.Totals.Subtotal.Equal(submission.Subtotal) {
			return &repositories.ValidationError{Fields: map[string][]string{
				"cart": {fmt.Sprintf("Cart changed during checkout (expected subtotal %s, found %s)", submission.Subtotal.StringFixed(2), order.Totals.Subtotal.StringFixed(2))},
			}}
		}

		if err := tx.Create(orderRef, orderToDocument(order)); err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
		}
		if err := tx.Set(cartRef, cartDocument{ItemCount: 0, UpdatedAt: now}); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

func buildOrder(orderID, uid string, submission repositories.OrderSubmission, lines []domain.CartItem, now time.Time) domain.Order {
	items := make([]domain.OrderItem, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		price := line.UnitPrice()
		total := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		subtotal = subtotal.Add(total)
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			Price:     price,
			Total:     total,
		})
	}
	return domain.Order{
		ID:               orderID,
		UserID:           uid,
		CartID:           uid,
		Shipping:         submission.Shipping,
		IsPickup:         submission.IsPickup,
		DeliveryLocation: submission.DeliveryLocation,
		Notes:            submission.Notes,
		Items:            items,
		Totals: domain.Totals{
			Subtotal:    subtotal,
			DeliveryFee: submission.DeliveryFee,
			OrderTotal:  subtotal.Add(submission.DeliveryFee),
		},
		PaymentMethod:   submission.PaymentMethod,
		PaymentStatus:   submission.PaymentStatus,
		Status:          domain.OrderStatusPending,
		MpesaCheckoutID: submission.MpesaCheckoutID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// GetOrder loads an order owned by userID. Orders of other users are reported as not found.
func (r *OrderRepository) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	if doc.Data.UserID != strings.TrimSpace(userID) {
		return domain.Order{}, pfirestore.NotFound("orders.get", fmt.Errorf("order %s not found", orderID))
	}
	return doc.Data.toDomain(doc.ID)
}

// ListOrders returns the shopper's orders, newest first.
func (r *OrderRepository) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (repositories.OrderPage, error) {
	uid := strings.TrimSpace(filter.UserID)
	if uid == "" {
		return repositories.OrderPage{}, errors.New("order repository: user id is required")
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return repositories.OrderPage{}, &repositories.ValidationError{Fields: map[string][]string{"pageToken": {err.Error()}}}
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", uid).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.After, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return repositories.OrderPage{}, err
	}

	page := repositories.OrderPage{Items: make([]domain.Order, 0, len(docs))}
	if len(docs) > size {
		docs = docs[:size]
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{After: last.Data.CreatedAt, ID: last.ID})
		if err != nil {
			return repositories.OrderPage{}, err
		}
		page.NextPageToken = token
	}
	for _, doc := range docs {
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return repositories.OrderPage{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

type orderDocument struct {
	UserID           string              `firestore:"userId"`
	CartID           string              `firestore:"cartId"`
	Shipping         shippingDocument    `firestore:"shipping"`
	IsPickup         bool                `firestore:"isPickup"`
	DeliveryLocation string              `firestore:"deliveryLocation"`
	Notes            string              `firestore:"notes,omitempty"`
	Items            []orderItemDocument `firestore:"items"`
	Subtotal         string              `firestore:"subtotal"`
	DeliveryFee      string              `firestore:"deliveryFee"`
	OrderTotal       string              `firestore:"orderTotal"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	PaymentStatus    string              `firestore:"paymentStatus"`
	Status           string              `firestore:"status"`
	MpesaCheckoutID  string              `firestore:"mpesaCheckoutId,omitempty"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

type shippingDocument struct {
	FullName    string `firestore:"fullName"`
	Email       string `firestore:"email"`
	PhoneNumber string `firestore:"phoneNumber"`
	Address     string `firestore:"address"`
	City        string `firestore:"city"`
	PostalCode  string `firestore:"postalCode"`
	Country     string `firestore:"country"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	Price     string `firestore:"price"`
	Total     string `firestore:"total"`
}

func shippingToDocument(s domain.ShippingDetails) shippingDocument {
	return shippingDocument(s)
}

func (d shippingDocument) toDomain() domain.ShippingDetails {
	return domain.ShippingDetails(d)
}

func orderToDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     formatMoney(item.Price),
			Total:     formatMoney(item.Total),
		})
	}
	return orderDocument{
		UserID:           order.UserID,
		CartID:           order.CartID,
		Shipping:         shippingToDocument(order.Shipping),
		IsPickup:         order.IsPickup,
		DeliveryLocation: order.DeliveryLocation,
		Notes:            order.Notes,
		Items:            items,
		Subtotal:         formatMoney(order.Totals.Subtotal),
		DeliveryFee:      formatMoney(order.Totals.DeliveryFee),
		OrderTotal:       formatMoney(order.Totals.OrderTotal),
		PaymentMethod:    string(order.PaymentMethod),
		PaymentStatus:    string(order.PaymentStatus),
		Status:           string(order.Status),
		MpesaCheckoutID:  order.MpesaCheckoutID,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	money := func(field, raw string) (decimal.Decimal, error) {
		value, err := parseMoney(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("orders: %s %s: %w", id, field, err)
		}
		return value, nil
	}
	subtotal, err := money("subtotal", d.Subtotal)
	if err != nil {
		return domain.Order{}, err
	}
	fee, err := money("deliveryFee", d.DeliveryFee)
	if err != nil {
		return domain.Order{}, err
	}
	total, err := money("orderTotal", d.OrderTotal)
	if err != nil {
		return domain.Order{}, err
	}
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		price, err := money("item price", item.Price)
		if err != nil {
			return domain.Order{}, err
		}
		lineTotal, err := money("item total", item.Total)
		if err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     price,
			Total:     lineTotal,
		})
	}
	return domain.Order{
		ID:               id,
		UserID:           d.UserID,
		CartID:           d.CartID,
		Shipping:         d.Shipping.toDomain(),
		IsPickup:         d.IsPickup,
		DeliveryLocation: d.DeliveryLocation,
		Notes:            d.Notes,
		Items:            items,
		Totals:           domain.Totals{Subtotal: subtotal, DeliveryFee: fee, OrderTotal: total},
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		Status:           domain.OrderStatus(d.Status),
		MpesaCheckoutID:  d.MpesaCheckoutID,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}, nil
}
