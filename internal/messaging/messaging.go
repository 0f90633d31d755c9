package messaging

import "context"

// Topics carrying order domain events and outbound notifications.
const (
	TopicOrderPlaced       = "orders.placed"
	TopicOrderCancelled    = "orders.cancelled"
	TopicOrderReturned     = "orders.returned"
	TopicItemStatusChanged = "orders.item_status"
	TopicPaymentRecorded   = "orders.payment"
	TopicNotifications     = "notifications.outbound"
)

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// Subscriber defines an interface for subscribing to a message topic.
// Consume blocks until ctx is cancelled.
type Subscriber interface {
	Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error)
}
