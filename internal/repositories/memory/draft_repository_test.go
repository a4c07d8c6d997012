package memory

import (
	"context"
	"testing"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

func TestDraftRepositoryRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := NewDraftRepository(func() time.Time { return now })
	ctx := context.Background()

	draft := domain.CheckoutDraft{
		UserID:    "user-1",
		CartID:    "cart-1",
		Form:      domain.CheckoutForm{FullName: "Jane Doe", DeliveryLocation: "KENCOM"},
		SavedAt:   now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := repo.Save(ctx, draft); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := repo.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Form.FullName != "Jane Doe" || loaded.CartID != "cart-1" {
		t.Fatalf("unexpected draft %+v", loaded)
	}

	if err := repo.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := repo.Load(ctx, "user-1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found after clear, got %v", err)
	}
}

func TestDraftRepositoryExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	current := now
	repo := NewDraftRepository(func() time.Time { return current })
	ctx := context.Background()

	for i, userID := range []string{"a", "b", "c"} {
		_ = repo.Save(ctx, domain.CheckoutDraft{UserID: userID, ExpiresAt: now.Add(time.Duration(i+1) * time.Minute)})
	}
	current = now.Add(90 * time.Second)
	if _, err := repo.Load(ctx, "a"); !repositories.IsNotFound(err) {
		t.Fatalf("expected expired draft to be hidden, got %v", err)
	}

	purged, err := repo.PurgeExpired(ctx, now.Add(150*time.Second), 1)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	purged, _ = repo.PurgeExpired(ctx, now.Add(150*time.Second), 0)
	if purged != 1 {
		t.Fatalf("expected remaining expired draft to be purged, got %d", purged)
	}
	current = now
	if _, err := repo.Load(ctx, "c"); err != nil {
		t.Fatalf("expected live draft to remain: %v", err)
	}
}
