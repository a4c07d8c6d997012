package payments

import (
	"context"
	"errors"
	"testing"
)

type fakePushGateway struct {
	initiations int
	queries     []string
	initiation  PushInitiation
	status      PushStatus
	err         error
}

func (f *fakePushGateway) InitiatePush(ctx context.Context, req PushRequest) (PushInitiation, error) {
	f.initiations++
	return f.initiation, f.err
}

func (f *fakePushGateway) QueryPush(ctx context.Context, handle string) (PushStatus, error) {
	f.queries = append(f.queries, handle)
	return f.status, f.err
}

type fakeCardProvider struct {
	calls   int
	session CheckoutSession
	err     error
}

func (f *fakeCardProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	f.calls++
	return f.session, f.err
}

func TestManagerRoutesPushByMethod(t *testing.T) {
	ctx := context.Background()
	mpesa := &fakePushGateway{initiation: PushInitiation{Success: true, Handle: "ws_CO_1"}}
	other := &fakePushGateway{initiation: PushInitiation{Success: true, Handle: "other_1"}}

	mgr, err := NewManager(
		WithPushGateway("other", other),
		WithPushGateway("mpesa", mpesa),
		WithMethodRoutes(map[string]string{"M-Pesa": "mpesa"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, err := mgr.InitiatePush(ctx, PushRequest{Method: "m-pesa"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.Provider != "mpesa" || mpesa.initiations != 1 || other.initiations != 0 {
		t.Fatalf("expected mpesa gateway to handle the push, got %+v", result)
	}

	if _, err := mgr.QueryPush(ctx, "ws_CO_1"); err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(mpesa.queries) != 1 || len(other.queries) != 0 {
		t.Fatalf("expected query to follow the issuing gateway")
	}

	mgr.ForgetPush("ws_CO_1")
	if _, err := mgr.QueryPush(ctx, "ws_CO_1"); err != nil {
		t.Fatalf("query after forget: %v", err)
	}
	if len(other.queries) != 1 {
		t.Fatalf("expected forgotten handle to fall back to the default gateway")
	}
}

func TestManagerDoesNotTrackRejectedPush(t *testing.T) {
	gw := &fakePushGateway{initiation: PushInitiation{Success: false, Message: "insufficient balance"}}
	mgr, err := NewManager(WithPushGateway("mpesa", gw))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	result, err := mgr.InitiatePush(context.Background(), PushRequest{})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.Success || result.Message != "insufficient balance" {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, ok := mgr.handles.Load(""); ok {
		t.Fatalf("expected no handle routing entry")
	}
}

func TestManagerCreateCheckoutSession(t *testing.T) {
	card := &fakeCardProvider{session: CheckoutSession{ID: "cs_1", RedirectURL: "https://checkout.stripe.com/c/cs_1"}}
	mgr, err := NewManager(WithCardProvider("stripe", card))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if !mgr.HasCardProvider() {
		t.Fatalf("expected card provider")
	}
	session, err := mgr.CreateCheckoutSession(context.Background(), "CREDIT_CARD", CheckoutSessionRequest{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != "stripe" || session.ID != "cs_1" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(WithCardProvider("stripe", &fakeCardProvider{}))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.InitiatePush(context.Background(), PushRequest{Method: "M-Pesa"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected unsupported provider, got %v", err)
	}
	if _, err := mgr.QueryPush(context.Background(), "x"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected unsupported provider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(); err == nil {
		t.Fatalf("expected error without providers")
	}
	if _, err := NewManager(WithPushGateway("mpesa", &fakePushGateway{}), WithMethodRoutes(map[string]string{"M-Pesa": "airtel"})); err == nil {
		t.Fatalf("expected error for route to unknown provider")
	}
	if _, err := NewManager(WithPushGateway(" ", &fakePushGateway{})); err == nil {
		t.Fatalf("expected blank key to be ignored and manager rejected")
	}
}
