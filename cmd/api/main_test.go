package main

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/services"
)

type countingMaintenance struct {
	calls atomic.Int32
	err   error
}

func (m *countingMaintenance) Sweep(context.Context) (services.MaintenanceReport, error) {
	m.calls.Add(1)
	return services.MaintenanceReport{DraftsPurged: 1}, m.err
}

func TestRequiredSecretNames(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		want []string
	}{
		"local": {
			env:  map[string]string{},
			want: []string{"Mpesa.ConsumerKey", "Mpesa.ConsumerSecret", "Mpesa.Passkey"},
		},
		"production requires callback token": {
			env:  map[string]string{"CHECKOUT_SECURITY_ENVIRONMENT": "PROD"},
			want: []string{"Mpesa.ConsumerKey", "Mpesa.ConsumerSecret", "Mpesa.Passkey", "Mpesa.CallbackToken"},
		},
		"stripe configured": {
			env:  map[string]string{"CHECKOUT_PSP_STRIPE_API_KEY": "secret://stripe-key"},
			want: []string{"Mpesa.ConsumerKey", "Mpesa.ConsumerSecret", "Mpesa.Passkey", "PSP.StripeAPIKey"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := requiredSecretNames(tc.env); !slices.Equal(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestRunMaintenanceLoopSweepsUntilCancelled(t *testing.T) {
	maintenance := &countingMaintenance{err: errors.New("firestore down")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runMaintenanceLoop(ctx, zap.NewNop(), maintenance, 5*time.Millisecond)
	}()

	deadline := time.After(2 * time.Second)
	for maintenance.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated sweeps despite errors, got %d", maintenance.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
}

func TestRunMaintenanceLoopDisabled(t *testing.T) {
	maintenance := &countingMaintenance{}
	runMaintenanceLoop(context.Background(), zap.NewNop(), maintenance, 0)
	if maintenance.calls.Load() != 0 {
		t.Fatalf("expected no sweeps when the interval is zero")
	}
}
