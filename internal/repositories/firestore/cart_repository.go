package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	cartCollection     = "carts"
	cartItemCollection = "items"
)

// CartRepository reads carts stored as carts/{userId} with lines under carts/{userId}/items.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{carts: pfirestore.NewCollection[cartDocument](provider, cartCollection)}, nil
}

// GetCart loads the cart header and its lines in insertion order. A missing header is an empty cart.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	cartRef, err := r.carts.Doc(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := domain.Cart{ID: uid, UserID: uid, Items: []domain.CartItem{}}
	header, err := r.carts.Get(ctx, uid)
	switch {
	case repositories.IsNotFound(err):
	case err != nil:
		return domain.Cart{}, err
	default:
		cart.UpdatedAt = header.Data.UpdatedAt
		if cart.UpdatedAt.IsZero() {
			cart.UpdatedAt = header.UpdateTime
		}
	}

	snaps, err := cartItemsQuery(cartRef).Documents(ctx).GetAll()
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.items.list", err)
	}
	items, err := decodeCartItems(snaps)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Items = items
	for _, item := range items {
		cart.ItemCount += item.Quantity
	}
	return cart, nil
}

func cartItemsQuery(cartRef *firestore.DocumentRef) firestore.Query {
	return cartRef.Collection(cartItemCollection).OrderBy("createdAt", firestore.Asc)
}

func decodeCartItems(snaps []*firestore.DocumentSnapshot) ([]domain.CartItem, error) {
	items := make([]domain.CartItem, 0, len(snaps))
	for _, snap := range snaps {
		var doc cartItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("carts.items: decode %s: %w", snap.Ref.ID, err)
		}
		item, err := doc.toDomain(snap.Ref.ID)
		if err != nil {
			return nil, fmt.Errorf("carts.items: %s: %w", snap.Ref.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

type cartDocument struct {
	ItemCount int       `firestore:"itemCount"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID     string    `firestore:"productId"`
	Name          string    `firestore:"name"`
	Price         string    `firestore:"price"`
	DiscountPrice string    `firestore:"discountPrice,omitempty"`
	Quantity      int       `firestore:"quantity"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func (d cartItemDocument) toDomain(id string) (domain.CartItem, error) {
	price, err := parseMoney(d.Price)
	if err != nil {
		return domain.CartItem{}, fmt.Errorf("price: %w", err)
	}
	item := domain.CartItem{
		ID:        id,
		ProductID: strings.TrimSpace(d.ProductID),
		Name:      strings.TrimSpace(d.Name),
		Price:     price,
		Quantity:  d.Quantity,
	}
	if strings.TrimSpace(d.DiscountPrice) != "" {
		discount, err := parseMoney(d.DiscountPrice)
		if err != nil {
			return domain.CartItem{}, fmt.Errorf("discount price: %w", err)
		}
		item.DiscountPrice = &discount
	}
	return item, nil
}

// Money is persisted as decimal strings so amounts survive round trips exactly.
func parseMoney(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}
