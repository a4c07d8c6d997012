// Package events publishes checkout lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/services"
)

var defaultPublished = []services.CheckoutEventType{
	services.CheckoutEventPaymentStarted,
	services.CheckoutEventPaymentResolved,
	services.CheckoutEventOrderPlaced,
	services.CheckoutEventOrderFailed,
}

// PubSubCheckoutPublisher forwards checkout events to a Pub/Sub topic. Publishing never blocks
// the checkout: results are awaited in the background and failures are logged.
type PubSubCheckoutPublisher struct {
	topic   *pubsub.Topic
	logger  *zap.Logger
	marshal func(any) ([]byte, error)
	types   map[services.CheckoutEventType]struct{}
	pending sync.WaitGroup
}

var _ services.CheckoutObserver = (*PubSubCheckoutPublisher)(nil)

// PublisherOption customises the publisher.
type PublisherOption func(*PubSubCheckoutPublisher)

// WithLogger sets the logger used for publish failures.
func WithLogger(logger *zap.Logger) PublisherOption {
	return func(p *PubSubCheckoutPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEventTypes replaces the set of event types that are published.
func WithEventTypes(types ...services.CheckoutEventType) PublisherOption {
	return func(p *PubSubCheckoutPublisher) {
		if len(types) == 0 {
			return
		}
		p.types = make(map[services.CheckoutEventType]struct{}, len(types))
		for _, t := range types {
			p.types[t] = struct{}{}
		}
	}
}

// NewPubSubCheckoutPublisher constructs a publisher for topic.
func NewPubSubCheckoutPublisher(topic *pubsub.Topic, opts ...PublisherOption) (*PubSubCheckoutPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	p := &PubSubCheckoutPublisher{
		topic:   topic,
		logger:  zap.NewNop(),
		marshal: json.Marshal,
	}
	WithEventTypes(defaultPublished...)(p)
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// OnCheckoutEvent implements services.CheckoutObserver.
func (p *PubSubCheckoutPublisher) OnCheckoutEvent(ctx context.Context, event services.CheckoutEvent) {
	if _, ok := p.types[event.Type]; !ok {
		return
	}
	message := newEventMessage(event)
	data, err := p.marshal(message)
	if err != nil {
		p.logger.Error("marshal checkout event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", string(event.Type))
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "attemptId", event.AttemptID)
	setAttr(attrs, "orderId", message.OrderID)

	publishCtx := context.WithoutCancel(ctx)
	result := p.topic.Publish(publishCtx, &pubsub.Message{Data: data, Attributes: attrs})

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		waitCtx, cancel := context.WithTimeout(publishCtx, 30*time.Second)
		defer cancel()
		if _, err := result.Get(waitCtx); err != nil {
			p.logger.Warn("publish checkout event",
				zap.String("type", string(event.Type)),
				zap.String("user_id", event.UserID),
				zap.Error(err),
			)
		}
	}()
}

// Flush waits until every published event has been acknowledged or failed.
func (p *PubSubCheckoutPublisher) Flush() {
	p.topic.Flush()
	p.pending.Wait()
}

// Close flushes outstanding events and stops the topic's publish goroutines.
func (p *PubSubCheckoutPublisher) Close() {
	p.Flush()
	p.topic.Stop()
}

type eventMessage struct {
	Type          string    `json:"type"`
	UserID        string    `json:"userId"`
	AttemptID     string    `json:"attemptId,omitempty"`
	Step          string    `json:"step"`
	PaymentHandle string    `json:"paymentHandle,omitempty"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	ResultCode    *int      `json:"resultCode,omitempty"`
	OrderID       string    `json:"orderId,omitempty"`
	OrderTotal    string    `json:"orderTotal,omitempty"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
	Message       string    `json:"message,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func newEventMessage(event services.CheckoutEvent) eventMessage {
	msg := eventMessage{
		Type:       string(event.Type),
		UserID:     event.UserID,
		AttemptID:  event.AttemptID,
		Step:       event.Step.String(),
		Message:    event.Message,
		OccurredAt: event.OccurredAt.UTC(),
	}
	if p := event.Payment; p != nil {
		msg.PaymentHandle = p.Handle
		msg.PaymentStatus = string(p.Status)
		msg.ResultCode = p.LastResultCode
	}
	if o := event.Order; o != nil {
		msg.OrderID = o.ID
		msg.OrderTotal = o.Totals.OrderTotal.StringFixed(2)
		msg.PaymentMethod = string(o.PaymentMethod)
	}
	return msg
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
