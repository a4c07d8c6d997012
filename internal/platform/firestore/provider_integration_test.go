//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/hanko-field/checkout/internal/platform/config"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func emulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "checkout-test", EmulatorHost: host})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestCollectionAndTransactionIntegration(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	samples := pfirestore.NewCollection[sampleEntity](provider, "samples")
	if _, err := samples.Set(ctx, "sample-1", sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, err := samples.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != "sample-1" || doc.Data.Name != "alpha" || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document %#v", doc)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := samples.Doc(ctx, "sample-1")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var entity sampleEntity
		if err := snap.DataTo(&entity); err != nil {
			return err
		}
		entity.Count++
		return tx.Set(ref, entity)
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	docs, err := samples.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("count", "==", 2)
	})
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one updated document, got %d %v", len(docs), err)
	}

	if err := samples.Delete(ctx, "sample-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = samples.Get(ctx, "sample-1")
	var classified interface{ IsNotFound() bool }
	if !errors.As(err, &classified) || !classified.IsNotFound() {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
