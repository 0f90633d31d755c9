package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/messaging"
	"github.com/shopspring/decimal"
)

// notification is one pending Notifier.Notify call.
type notification struct {
	recipientID string
	kind        string
	payload     any
}

// OrderNotification is the payload of every order notification. Vendors
// only ever see their own items.
type OrderNotification struct {
	OrderID     string                   `json:"order_id"`
	UserID      string                   `json:"user_id"`
	Status      entity.FulfillmentStatus `json:"status"`
	Payment     entity.PaymentStatus     `json:"payment_status"`
	Items       []entity.OrderItem       `json:"items,omitempty"`
	TotalAmount decimal.Decimal          `json:"total_amount"`
	Reason      string                   `json:"reason,omitempty"`
}

func newOrderNotification(order *entity.Order, items []entity.OrderItem, reason string) OrderNotification {
	return OrderNotification{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		Payment:     order.PaymentStatus,
		Items:       items,
		TotalAmount: order.Pricing.TotalAmount,
		Reason:      reason,
	}
}

// placedNotifications confirms the order to the buyer and tells each vendor
// about its own items.
func placedNotifications(order *entity.Order) []notification {
	notes := []notification{{
		recipientID: order.UserID,
		kind:        messaging.NotifyOrderConfirmation,
		payload:     newOrderNotification(order, order.Items, ""),
	}}
	for _, vendorID := range order.VendorIDs() {
		notes = append(notes, notification{
			recipientID: vendorID,
			kind:        messaging.NotifyVendorNewOrder,
			payload:     newOrderNotification(order, order.ItemsForVendor(vendorID), ""),
		})
	}
	return notes
}

// lifecycleNotifications tells the buyer about a cancellation or return and
// every vendor whose items were affected.
func lifecycleNotifications(order *entity.Order, affected []entity.OrderItem, buyerKind, vendorKind string) []notification {
	reason := order.CancellationReason
	if order.Status == entity.StatusReturned {
		reason = order.ReturnReason
	}

	notes := []notification{{
		recipientID: order.UserID,
		kind:        buyerKind,
		payload:     newOrderNotification(order, affected, reason),
	}}

	byVendor := make(map[string][]entity.OrderItem)
	var vendors []string
	for _, item := range affected {
		if _, ok := byVendor[item.VendorID]; !ok {
			vendors = append(vendors, item.VendorID)
		}
		byVendor[item.VendorID] = append(byVendor[item.VendorID], item)
	}
	for _, vendorID := range vendors {
		notes = append(notes, notification{
			recipientID: vendorID,
			kind:        vendorKind,
			payload:     newOrderNotification(order, byVendor[vendorID], reason),
		})
	}
	return notes
}

// placedEvents rebuilds the OrderPlaced event of a freshly created order.
func placedEvents(order *entity.Order) []entity.Event {
	return []entity.Event{entity.OrderPlaced{
		OrderID:         order.ID,
		UserID:          order.UserID,
		Items:           order.Items,
		ShippingAddress: order.ShippingAddress,
		Pricing:         order.Pricing,
		CouponCode:      order.CouponCode,
		PaymentMethod:   order.PaymentMethod,
		PlacedAt:        order.CreatedAt,
	}}
}

func topicFor(e entity.Event) string {
	switch e.(type) {
	case entity.OrderPlaced:
		return messaging.TopicOrderPlaced
	case entity.OrderCancelled:
		return messaging.TopicOrderCancelled
	case entity.OrderReturned:
		return messaging.TopicOrderReturned
	case entity.PaymentRecorded:
		return messaging.TopicPaymentRecorded
	default:
		return messaging.TopicItemStatusChanged
	}
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "placed"
	case errors.Is(err, entity.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, entity.ErrValidation), errors.Is(err, entity.ErrConflict), errors.Is(err, entity.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

// NotificationLogger consumes the notification topic and logs each delivery.
// It stands in for an email or push gateway during development.
type NotificationLogger struct {
	subscriber messaging.Subscriber
	groupID    string
}

func NewNotificationLogger(subscriber messaging.Subscriber, groupID string) *NotificationLogger {
	return &NotificationLogger{subscriber: subscriber, groupID: groupID}
}

// Run blocks until ctx is cancelled.
func (l *NotificationLogger) Run(ctx context.Context) {
	slog.Info("Consumer: Listening for notifications", "topic", messaging.TopicNotifications)
	l.subscriber.Consume(ctx, messaging.TopicNotifications, l.groupID, l.Handle)
}

// Handle logs one notification message.
func (l *NotificationLogger) Handle(ctx context.Context, payload []byte) error {
	var note messaging.Notification
	if err := json.Unmarshal(payload, &note); err != nil {
		slog.Error("Consumer: Failed to decode notification", "err", err)
		return err
	}
	slog.Info("Consumer: Notification delivered", "id", note.ID, "recipient_id", note.RecipientID, "type", note.Type)
	return nil
}
