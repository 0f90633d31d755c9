package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	NotifyOrderConfirmation    = "order.confirmation"
	NotifyVendorNewOrder       = "vendor.new_order"
	NotifyOrderCancelled       = "order.cancelled"
	NotifyVendorOrderCancelled = "vendor.order_cancelled"
	NotifyOrderReturned        = "order.returned"
	NotifyVendorOrderReturned  = "vendor.order_returned"
	NotifyItemStatusChanged    = "order.item_status"
	NotifyPaymentRecorded      = "order.payment"
)

// Notification is one message addressed to a buyer or a vendor.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Type        string    `json:"type"`
	Payload     any       `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier delivers notifications. Delivery itself happens downstream.
type Notifier interface {
	Notify(ctx context.Context, recipientID, notificationType string, payload any) error
}

// BrokerNotifier hands notifications to the broker on TopicNotifications,
// keyed by recipient so each recipient's messages stay ordered.
type BrokerNotifier struct {
	publisher Publisher
	now       func() time.Time
}

// NewBrokerNotifier creates a Notifier on top of publisher.
func NewBrokerNotifier(publisher Publisher) *BrokerNotifier {
	return &BrokerNotifier{
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (n *BrokerNotifier) Notify(ctx context.Context, recipientID, notificationType string, payload any) error {
	note := Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        notificationType,
		Payload:     payload,
		CreatedAt:   n.now(),
	}
	if err := n.publisher.PublishEvent(ctx, TopicNotifications, recipientID, note); err != nil {
		return fmt.Errorf("failed to publish %s notification for %s: %w", notificationType, recipientID, err)
	}
	return nil
}
