package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topics published by the widget. The rendering layer subscribes to these
// and re-renders; it dispatches intents back through the widget's methods.
const (
	TopicStepChanged    = "checkout.step_changed"
	TopicCartUpdated    = "cart.updated"
	TopicAuthChanged    = "checkout.auth_changed"
	TopicOrderResult    = "checkout.order_result"
	TopicCheckoutExited = "checkout.exited"
)

// StepChanged announces a wizard transition.
type StepChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CartUpdated announces a fresh server-confirmed cart snapshot.
type CartUpdated struct {
	CartID     string `json:"cart_id"`
	ItemCount  int    `json:"item_count"`
	TotalMinor int64  `json:"total_minor"`
}

// AuthChanged announces an authentication sub-flow stage change.
type AuthChanged struct {
	Stage string `json:"stage"`
	Email string `json:"email,omitempty"`
}

// OrderResult announces a terminal (or pending) submission outcome.
type OrderResult struct {
	State   string `json:"state"`
	OrderID string `json:"order_id,omitempty"`
}

// CheckoutExited announces that the wizard was abandoned, e.g. because the
// cart emptied mid-checkout.
type CheckoutExited struct {
	Reason string `json:"reason"`
}

// Bus is an in-process pub/sub channel between the widget and the
// rendering layer.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus builds an in-memory bus. Messages published with no subscriber
// are dropped, matching fire-and-forget UI eventing.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
	}
}

// Publish JSON-encodes the payload onto the topic.
func (b *Bus) Publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	return b.pubsub.Publish(topic, msg)
}

// Subscribe returns a channel of messages for the topic. The subscription
// ends when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the underlying pub/sub down.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode unmarshals a message payload into the given target.
func Decode(msg *message.Message, target any) error {
	if err := json.Unmarshal(msg.Payload, target); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	return nil
}
