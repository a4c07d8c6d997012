package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/checkout/internal/platform/config"
)

func TestProviderClientRequiresProject(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	t.Setenv(envEmulatorHost, "")
	p := NewProvider(config.FirestoreConfig{})

	for i := 0; i < 2; i++ {
		if _, err := p.Client(context.Background()); err == nil {
			t.Fatalf("attempt %d: expected missing project error", i+1)
		}
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "shop"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	if err := p.RunTransaction(context.Background(), func(context.Context, *firestore.Transaction) error { return nil }); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed from transaction, got %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRunTransactionRejectsNilArguments(t *testing.T) {
	if err := RunTransaction(context.Background(), nil, func(context.Context, *firestore.Transaction) error { return nil }); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
