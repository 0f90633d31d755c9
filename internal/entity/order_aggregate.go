package entity

import (
	"fmt"
	"strings"
	"time"
)

// OrderAggregate manages the state of an Order. State is changed only by
// applying events; domain methods validate, raise an event and record it
// in Changes until the repository persists them.
type OrderAggregate struct {
	Order
	changes []Event
}

// NewOrderAggregate creates an empty aggregate for the given id.
func NewOrderAggregate(id string) *OrderAggregate {
	return &OrderAggregate{
		Order: Order{
			ID:            id,
			Status:        StatusPending,
			PaymentStatus: PaymentPending,
		},
	}
}

func (a *OrderAggregate) GetAggregateID() string { return a.ID }

func (a *OrderAggregate) GetVersion() int { return a.Version }

// Changes returns events raised since the aggregate was loaded or last persisted.
func (a *OrderAggregate) Changes() []Event { return a.changes }

// ClearChanges is called by repositories once Changes are durable.
func (a *OrderAggregate) ClearChanges() { a.changes = nil }

// PersistedVersion is the version stored before the pending changes.
func (a *OrderAggregate) PersistedVersion() int { return a.Version - len(a.changes) }

func (a *OrderAggregate) raise(e Event) error {
	if err := a.ApplyEvent(e); err != nil {
		return err
	}
	a.changes = append(a.changes, e)
	return nil
}

// Place initializes a new order from a checkout.
func (a *OrderAggregate) Place(cmd PlaceOrder) error {
	if a.Version > 0 {
		return fmt.Errorf("order %s: %w", a.ID, ErrDuplicateOrderID)
	}
	if cmd.UserID == "" {
		return ErrUserIDRequired
	}
	if len(cmd.Items) == 0 {
		return ErrEmptyCart
	}
	if err := cmd.ShippingAddress.Validate(); err != nil {
		return err
	}
	if cmd.PaymentMethod == "" {
		return ErrPaymentMethodRequired
	}

	items := make([]OrderItem, len(cmd.Items))
	for i, item := range cmd.Items {
		if item.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		item.Status = StatusPending
		item.StatusChangedAt = cmd.PlacedAt
		items[i] = item
	}

	return a.raise(OrderPlaced{
		OrderID:         cmd.OrderID,
		UserID:          cmd.UserID,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		Pricing:         cmd.Pricing,
		CouponCode:      cmd.CouponCode,
		PaymentMethod:   cmd.PaymentMethod,
		PlacedAt:        cmd.PlacedAt,
	})
}

// vendorCancelReason is recorded when vendors cancel every item of an order.
const vendorCancelReason = "all items cancelled by vendors"

// TransitionItem moves one item to the next fulfillment status on behalf of
// its vendor. Returns go through RequestReturn. When the last open item is
// cancelled the order is cancelled as a whole, refunding a paid payment.
func (a *OrderAggregate) TransitionItem(itemID, vendorID string, to FulfillmentStatus, trackingNumber string, at time.Time) (OrderItem, error) {
	idx := a.itemIndex(itemID)
	if idx < 0 {
		return OrderItem{}, fmt.Errorf("item %s in order %s: %w", itemID, a.ID, ErrOrderItemNotFound)
	}
	item := a.Items[idx]
	if item.VendorID != vendorID {
		return OrderItem{}, fmt.Errorf("item %s: %w", itemID, ErrNotItemVendor)
	}
	if to == StatusReturned {
		return OrderItem{}, fmt.Errorf("%w: item %s can only be returned by the buyer", ErrInvalidTransition, itemID)
	}
	if !item.Status.CanTransitionTo(to) {
		return OrderItem{}, fmt.Errorf("%w: item %s %s -> %s", ErrInvalidTransition, itemID, item.Status, to)
	}
	trackingNumber = strings.TrimSpace(trackingNumber)
	if to == StatusShipped && trackingNumber == "" && item.TrackingNumber == "" {
		return OrderItem{}, fmt.Errorf("item %s: %w", itemID, ErrTrackingNumberRequired)
	}

	err := a.raise(ItemStatusChanged{
		OrderID:        a.ID,
		ItemID:         item.ID,
		VendorID:       item.VendorID,
		From:           item.Status,
		To:             to,
		TrackingNumber: trackingNumber,
		ActorID:        vendorID,
		ChangedAt:      at,
	})
	if err != nil {
		return OrderItem{}, err
	}
	if to == StatusCancelled && a.allItems(StatusCancelled) {
		if err := a.closeCancelled(vendorID, vendorCancelReason, at); err != nil {
			return OrderItem{}, err
		}
	}
	return a.Items[idx], nil
}

// Cancel cancels every open item of the order. It returns the items whose
// stock must be released, as they were before cancellation.
func (a *OrderAggregate) Cancel(actorID, reason string, at time.Time) ([]OrderItem, error) {
	if a.UserID != actorID {
		return nil, ErrNotOrderOwner
	}

	var open []OrderItem
	for _, item := range a.Items {
		switch item.Status {
		case StatusShipped, StatusDelivered, StatusReturned:
			return nil, fmt.Errorf("%w: item %s is %s", ErrInvalidStateForCancellation, item.ID, item.Status)
		}
		if item.Status.Cancellable() {
			open = append(open, item)
		}
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("%w: order %s is already %s", ErrInvalidStateForCancellation, a.ID, a.Status)
	}

	for _, item := range open {
		err := a.raise(ItemStatusChanged{
			OrderID:   a.ID,
			ItemID:    item.ID,
			VendorID:  item.VendorID,
			From:      item.Status,
			To:        StatusCancelled,
			ActorID:   actorID,
			ChangedAt: at,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := a.closeCancelled(actorID, reason, at); err != nil {
		return nil, err
	}
	return open, nil
}

// closeCancelled refunds a paid order and records its cancellation.
func (a *OrderAggregate) closeCancelled(actorID, reason string, at time.Time) error {
	if a.PaymentStatus == PaymentPaid {
		err := a.raise(PaymentRecorded{
			OrderID:    a.ID,
			Status:     PaymentRefunded,
			Reference:  a.PaymentReference,
			RecordedAt: at,
		})
		if err != nil {
			return err
		}
	}
	return a.raise(OrderCancelled{OrderID: a.ID, ActorID: actorID, Reason: reason, CancelledAt: at})
}

func (a *OrderAggregate) allItems(status FulfillmentStatus) bool {
	for _, item := range a.Items {
		if item.Status != status {
			return false
		}
	}
	return true
}

// RequestReturn returns a delivered order. It returns the items that moved to returned.
func (a *OrderAggregate) RequestReturn(actorID, reason string, at time.Time) ([]OrderItem, error) {
	if a.UserID != actorID {
		return nil, ErrNotOrderOwner
	}
	if a.Status != StatusDelivered {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidStateForReturn, a.ID, a.Status)
	}

	var returned []OrderItem
	for _, item := range a.Items {
		if item.Status != StatusDelivered {
			continue
		}
		err := a.raise(ItemStatusChanged{
			OrderID:   a.ID,
			ItemID:    item.ID,
			VendorID:  item.VendorID,
			From:      item.Status,
			To:        StatusReturned,
			ActorID:   actorID,
			ChangedAt: at,
		})
		if err != nil {
			return nil, err
		}
		returned = append(returned, item)
	}

	if err := a.raise(OrderReturned{OrderID: a.ID, ActorID: actorID, Reason: reason, ReturnedAt: at}); err != nil {
		return nil, err
	}
	return returned, nil
}

// CanRecordPayment reports why a payment outcome may not be recorded, if it may not.
func (a *OrderAggregate) CanRecordPayment() error {
	if a.PaymentStatus == PaymentPaid || a.PaymentStatus == PaymentRefunded {
		return fmt.Errorf("order %s is %s: %w", a.ID, a.PaymentStatus, ErrPaymentAlreadySettled)
	}
	if a.Status == StatusCancelled {
		return fmt.Errorf("%w: order %s is cancelled", ErrInvalidTransition, a.ID)
	}
	return nil
}

// RecordPayment stores the payment outcome reported by the payment processor.
func (a *OrderAggregate) RecordPayment(status PaymentStatus, reference string, at time.Time) error {
	if err := a.CanRecordPayment(); err != nil {
		return err
	}
	return a.raise(PaymentRecorded{OrderID: a.ID, Status: status, Reference: reference, RecordedAt: at})
}

// ApplyEvent mutates the aggregate state based on the event.
func (a *OrderAggregate) ApplyEvent(e Event) error {
	switch e := e.(type) {
	case OrderPlaced:
		a.ID = e.OrderID
		a.UserID = e.UserID
		a.Items = append([]OrderItem(nil), e.Items...)
		a.ShippingAddress = e.ShippingAddress
		a.Pricing = e.Pricing
		a.CouponCode = e.CouponCode
		a.PaymentMethod = e.PaymentMethod
		a.PaymentStatus = PaymentPending
		a.Status = StatusPending
		if a.CreatedAt.IsZero() {
			a.CreatedAt = e.PlacedAt
		}
		a.UpdatedAt = e.PlacedAt
	case ItemStatusChanged:
		idx := a.itemIndex(e.ItemID)
		if idx < 0 {
			return fmt.Errorf("item %s not in order %s", e.ItemID, a.ID)
		}
		item := &a.Items[idx]
		item.Status = e.To
		item.StatusChangedAt = e.ChangedAt
		if e.TrackingNumber != "" {
			item.TrackingNumber = e.TrackingNumber
		}
		at := e.ChangedAt
		switch e.To {
		case StatusShipped:
			item.ShippedAt = &at
		case StatusDelivered:
			item.DeliveredAt = &at
		case StatusCancelled:
			item.CancelledAt = &at
		case StatusReturned:
			item.ReturnedAt = &at
		}
		a.deriveStatus()
		a.UpdatedAt = e.ChangedAt
	case OrderCancelled:
		at := e.CancelledAt
		a.Status = StatusCancelled
		a.CancellationReason = e.Reason
		a.CancelledAt = &at
		a.UpdatedAt = at
	case OrderReturned:
		at := e.ReturnedAt
		a.Status = StatusReturned
		a.ReturnReason = e.Reason
		a.ReturnedAt = &at
		a.UpdatedAt = at
	case PaymentRecorded:
		a.PaymentStatus = e.Status
		if e.Reference != "" {
			a.PaymentReference = e.Reference
		}
		a.UpdatedAt = e.RecordedAt
	default:
		return fmt.Errorf("unknown event type for OrderAggregate: %s", e.EventType())
	}
	a.Version++
	return nil
}

// deriveStatus sets the order status when every item agrees on one.
// Items cancelled individually by their vendor are left out of the
// comparison, so [cancelled, processing] derives processing rather than
// keeping the previous status. If every item is cancelled the order is
// cancelled.
func (a *OrderAggregate) deriveStatus() {
	var common FulfillmentStatus
	for _, item := range a.Items {
		if item.Status == StatusCancelled {
			continue
		}
		if common == "" {
			common = item.Status
		} else if item.Status != common {
			return
		}
	}
	if common == "" {
		common = StatusCancelled
	}
	a.Status = common
}

func (a *OrderAggregate) itemIndex(itemID string) int {
	for i := range a.Items {
		if a.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// Rehydrate rebuilds the aggregate from its stored event stream.
func (a *OrderAggregate) Rehydrate(records []EventStoreRecord) error {
	for _, rec := range records {
		e, err := rec.Decode()
		if err != nil {
			return err
		}
		if err := a.ApplyEvent(e); err != nil {
			return fmt.Errorf("failed to apply event %d of stream %s: %w", rec.Version, rec.StreamID, err)
		}
	}
	return nil
}
