package entity

import (
	"fmt"
	"slices"
	"strings"
)

// FulfillmentStatus is the status of an order item, and the derived status of an order.
type FulfillmentStatus string

const (
	StatusPending    FulfillmentStatus = "pending"
	StatusProcessing FulfillmentStatus = "processing"
	StatusShipped    FulfillmentStatus = "shipped"
	StatusDelivered  FulfillmentStatus = "delivered"
	StatusCancelled  FulfillmentStatus = "cancelled"
	StatusReturned   FulfillmentStatus = "returned"
)

var itemTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusReturned},
}

// ParseFulfillmentStatus converts user input to a known status.
func ParseFulfillmentStatus(s string) (FulfillmentStatus, error) {
	status := FulfillmentStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// CanTransitionTo reports whether an item may move from s to next.
func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	return slices.Contains(itemTransitions[s], next)
}

// IsTerminal reports whether no further transition is possible.
func (s FulfillmentStatus) IsTerminal() bool {
	return len(itemTransitions[s]) == 0
}

// Cancellable reports whether an item in this status can still be cancelled.
func (s FulfillmentStatus) Cancellable() bool {
	return s.CanTransitionTo(StatusCancelled)
}

// PaymentStatus is the payment outcome recorded on an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)
