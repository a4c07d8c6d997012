package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "checkout-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPublisherPublishesOrderPlaced(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubCheckoutPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCheckoutPublisher: %v", err)
	}

	code := 0
	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	publisher.OnCheckoutEvent(context.Background(), services.CheckoutEvent{
		Type:      services.CheckoutEventOrderPlaced,
		UserID:    "uid-1",
		AttemptID: "att-1",
		Step:      domain.CheckoutStepReview,
		Payment:   &domain.PaymentSession{Handle: "ws_CO_1", Status: domain.PaymentSessionSuccess, LastResultCode: &code},
		Order: &domain.Order{
			ID:            "ord_1",
			PaymentMethod: domain.PaymentMethodMpesa,
			Totals:        domain.Totals{OrderTotal: decimal.NewFromInt(1300)},
		},
		OccurredAt: occurred,
	})
	publisher.Flush()

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload eventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord_1" || payload.OrderTotal != "1300.00" || payload.Step != "REVIEW" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.ResultCode == nil || *payload.ResultCode != 0 {
		t.Fatalf("expected result code 0, got %v", payload.ResultCode)
	}
	attrs := messages[0].Attributes
	if attrs["eventType"] != "order_placed" || attrs["orderId"] != "ord_1" || attrs["userId"] != "uid-1" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
}

func TestPublisherSkipsStepChangesByDefault(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubCheckoutPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCheckoutPublisher: %v", err)
	}

	publisher.OnCheckoutEvent(context.Background(), services.CheckoutEvent{Type: services.CheckoutEventStepChanged, UserID: "uid-1"})
	publisher.Flush()

	if got := len(srv.Messages()); got != 0 {
		t.Fatalf("expected no messages, got %d", got)
	}
}

func TestPublisherCustomEventTypes(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubCheckoutPublisher(topic, WithEventTypes(services.CheckoutEventStepChanged))
	if err != nil {
		t.Fatalf("NewPubSubCheckoutPublisher: %v", err)
	}

	publisher.OnCheckoutEvent(context.Background(), services.CheckoutEvent{Type: services.CheckoutEventStepChanged, UserID: "uid-1", Step: domain.CheckoutStepPayment})
	publisher.OnCheckoutEvent(context.Background(), services.CheckoutEvent{Type: services.CheckoutEventOrderPlaced, UserID: "uid-1"})
	publisher.Close()

	messages := srv.Messages()
	if len(messages) != 1 || messages[0].Attributes["eventType"] != "step_changed" {
		t.Fatalf("expected only the step change, got %d messages", len(messages))
	}
}

func TestNewPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubCheckoutPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
