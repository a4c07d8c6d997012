//go:build integration

package firestore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/hanko-field/checkout/internal/domain"
	pconfig "github.com/hanko-field/checkout/internal/platform/config"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

func emulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "checkout-repos-test", EmulatorHost: host})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func uniqueUser() string {
	return "uid_" + strings.ToLower(ulid.Make().String())
}

func seedCart(t *testing.T, ctx context.Context, provider *pfirestore.Provider, uid string, items ...cartItemDocument) {
	t.Helper()
	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	cartRef := client.Collection(cartCollection).Doc(uid)
	count := 0
	for i, item := range items {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC)
		}
		if _, err := cartRef.Collection(cartItemCollection).NewDoc().Set(ctx, item); err != nil {
			t.Fatalf("seed item: %v", err)
		}
		count += item.Quantity
	}
	if _, err := cartRef.Set(ctx, cartDocument{ItemCount: count, UpdatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}
}

func TestCartAndOrderRepositoriesIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	uid := uniqueUser()
	seedCart(t, ctx, provider, uid,
		cartItemDocument{ProductID: "p1", Name: "Kikoy", Price: "1000.00", DiscountPrice: "800.00", Quantity: 2},
		cartItemDocument{ProductID: "p2", Name: "Basket", Price: "450.50", Quantity: 1},
	)

	carts, err := NewCartRepository(provider)
	if err != nil {
		t.Fatalf("new cart repository: %v", err)
	}
	cart, err := carts.GetCart(ctx, uid)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Items) != 2 || cart.ItemCount != 3 {
		t.Fatalf("unexpected cart: %+v", cart)
	}
	if cart.Items[0].ProductID != "p1" || cart.Items[0].DiscountPrice == nil {
		t.Fatalf("expected discounted first line, got %+v", cart.Items[0])
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	submission := repositories.OrderSubmission{
		UserID:           uid,
		CartID:           uid,
		Shipping:         domain.ShippingDetails{FullName: "Amina Otieno", Email: "amina@example.com", PhoneNumber: "254712345678", Address: "1 Moi Ave", City: "Nairobi", PostalCode: "00100", Country: "Kenya"},
		DeliveryLocation: "Nairobi CBD",
		Subtotal:         decimal.RequireFromString("2050.50"),
		DeliveryFee:      decimal.NewFromInt(200),
		OrderTotal:       decimal.RequireFromString("2250.50"),
		PaymentMethod:    domain.PaymentMethodMpesa,
		PaymentStatus:    domain.PaymentStatusCompleted,
		MpesaCheckoutID:  "ws_CO_1",
	}
	order, err := orders.CreateOrder(ctx, submission)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !strings.HasPrefix(order.ID, orderIDPrefix) {
		t.Fatalf("unexpected order id %q", order.ID)
	}
	if !order.Totals.OrderTotal.Equal(decimal.RequireFromString("2250.50")) {
		t.Fatalf("unexpected total %s", order.Totals.OrderTotal)
	}
	if !order.Items[0].Price.Equal(decimal.NewFromInt(800)) || !order.Items[0].Total.Equal(decimal.NewFromInt(1600)) {
		t.Fatalf("expected discount price snapshot, got %+v", order.Items[0])
	}

	emptied, err := carts.GetCart(ctx, uid)
	if err != nil {
		t.Fatalf("get cart after order: %v", err)
	}
	if !emptied.Empty() {
		t.Fatalf("expected cart cleared, got %+v", emptied.Items)
	}

	if _, err := orders.CreateOrder(ctx, submission); err == nil {
		t.Fatalf("expected empty cart rejection")
	} else {
		var validation *repositories.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	}

	loaded, err := orders.GetOrder(ctx, uid, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if loaded.Shipping.City != "Nairobi" || loaded.MpesaCheckoutID != "ws_CO_1" || len(loaded.Items) != 2 {
		t.Fatalf("unexpected order: %+v", loaded)
	}
	if _, err := orders.GetOrder(ctx, uniqueUser(), order.ID); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
}

func TestOrderRepositoryCartChangedIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	uid := uniqueUser()
	seedCart(t, ctx, provider, uid, cartItemDocument{ProductID: "p1", Name: "Kikoy", Price: "1000.00", Quantity: 1})
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	_, err = orders.CreateOrder(ctx, repositories.OrderSubmission{UserID: uid, CartID: uid, Subtotal: decimal.NewFromInt(500)})
	var validation *repositories.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	carts, _ := NewCartRepository(provider)
	cart, err := carts.GetCart(ctx, uid)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected cart untouched, got %+v", cart.Items)
	}
}

func TestOrderRepositoryListPagesIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	uid := uniqueUser()
	base := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	var tick int
	orders, err := NewOrderRepository(provider, WithOrderClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	for i := 0; i < 3; i++ {
		seedCart(t, ctx, provider, uid, cartItemDocument{ProductID: "p1", Name: "Kikoy", Price: "100.00", Quantity: 1})
		if _, err := orders.CreateOrder(ctx, repositories.OrderSubmission{UserID: uid, Subtotal: decimal.NewFromInt(100)}); err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
	}

	first, err := orders.ListOrders(ctx, repositories.OrderListFilter{UserID: uid, Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Items) != 2 || first.NextPageToken == "" {
		t.Fatalf("unexpected first page: %d items token=%q", len(first.Items), first.NextPageToken)
	}
	if !first.Items[0].CreatedAt.After(first.Items[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}

	second, err := orders.ListOrders(ctx, repositories.OrderListFilter{UserID: uid, Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 1 || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %d items token=%q", len(second.Items), second.NextPageToken)
	}

	if _, err := orders.ListOrders(ctx, repositories.OrderListFilter{UserID: uid, Pagination: domain.Pagination{PageToken: "***"}}); err == nil {
		t.Fatalf("expected invalid token error")
	}
}

func TestDraftRepositoryIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	drafts, err := NewDraftRepository(provider, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new draft repository: %v", err)
	}

	live := uniqueUser()
	stale := uniqueUser()
	form := domain.CheckoutForm{FullName: "Amina Otieno", DeliveryLocation: "Nairobi CBD", DeliveryFee: decimal.NewFromInt(200), PaymentMethod: domain.PaymentMethodMpesa}
	if err := drafts.Save(ctx, domain.CheckoutDraft{UserID: live, CartID: live, Form: form, SavedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("save live: %v", err)
	}
	if err := drafts.Save(ctx, domain.CheckoutDraft{UserID: stale, CartID: stale, Form: form, SavedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("save stale: %v", err)
	}

	loaded, err := drafts.Load(ctx, live)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Form.DeliveryFee.Equal(decimal.NewFromInt(200)) || loaded.Form.PaymentMethod != domain.PaymentMethodMpesa {
		t.Fatalf("unexpected draft: %+v", loaded)
	}
	if _, err := drafts.Load(ctx, stale); !repositories.IsNotFound(err) {
		t.Fatalf("expected expired draft to be not found, got %v", err)
	}

	purged, err := drafts.PurgeExpired(ctx, now, 0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged < 1 {
		t.Fatalf("expected at least one purged draft, got %d", purged)
	}

	if err := drafts.Clear(ctx, live); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := drafts.Load(ctx, live); !repositories.IsNotFound(err) {
		t.Fatalf("expected cleared draft to be not found, got %v", err)
	}
}

func TestTransactionRepositoryIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := NewTransactionRepository(provider)
	if err != nil {
		t.Fatalf("new transaction repository: %v", err)
	}
	id := "ws_CO_" + strings.ToLower(ulid.Make().String())
	txn := domain.PaymentTransaction{
		CheckoutRequestID: id,
		MerchantRequestID: "29115-34620561-1",
		ReceiptNumber:     "NLJ7RT61SV",
		PhoneNumber:       "254712345678",
		Amount:            decimal.RequireFromString("2250.50"),
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		Status:            domain.PaymentStatusCompleted,
		ReceivedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := repo.RecordTransaction(ctx, txn); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := repo.FindByCheckoutID(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ReceiptNumber != txn.ReceiptNumber || !got.Amount.Equal(txn.Amount) || got.Status != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected transaction: %+v", got)
	}
	if _, err := repo.FindByCheckoutID(ctx, "ws_CO_missing"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
