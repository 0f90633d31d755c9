package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/coupon"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/messaging"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/observability"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/payment"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/pricing"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName        = "github.com/raviteja-iiith/e-merchandise-sub001/internal/service"
	notifyConcurrency = 8
)

// Options tune the order service.
type Options struct {
	// RestockOnReturn releases returned items back to stock.
	RestockOnReturn bool
	StoreTimeout    time.Duration
	NotifyTimeout   time.Duration
	// MaxOrderIDTries bounds retries after an order id collision.
	MaxOrderIDTries int
	// ListLimit is the default and maximum size of an order listing.
	ListLimit int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		StoreTimeout:    5 * time.Second,
		NotifyTimeout:   10 * time.Second,
		MaxOrderIDTries: 3,
		ListLimit:       50,
	}
}

// OrderService orchestrates checkout and the order lifecycle.
type OrderService struct {
	orders    repository.OrderRepository
	products  repository.ProductRepository
	ledger    repository.StockLedger
	carts     repository.CartRepository
	events    repository.EventStore
	coupons   *coupon.Validator
	pricing   *pricing.Engine
	shipping  pricing.ShippingCalculator
	payments  payment.Processor
	notifier  messaging.Notifier
	publisher messaging.Publisher
	metrics   *observability.Metrics
	tracer    trace.Tracer
	opts      Options

	now        func() time.Time
	newOrderID func(time.Time) string
	pending    sync.WaitGroup
}

func NewOrderService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	ledger repository.StockLedger,
	carts repository.CartRepository,
	events repository.EventStore,
	coupons *coupon.Validator,
	engine *pricing.Engine,
	shipping pricing.ShippingCalculator,
	payments payment.Processor,
	notifier messaging.Notifier,
	publisher messaging.Publisher,
	metrics *observability.Metrics,
	opts Options,
) *OrderService {
	defaults := DefaultOptions()
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaults.StoreTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaults.NotifyTimeout
	}
	if opts.MaxOrderIDTries <= 0 {
		opts.MaxOrderIDTries = defaults.MaxOrderIDTries
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = defaults.ListLimit
	}

	return &OrderService{
		orders:     orders,
		products:   products,
		ledger:     ledger,
		carts:      carts,
		events:     events,
		coupons:    coupons,
		pricing:    engine,
		shipping:   shipping,
		payments:   payments,
		notifier:   notifier,
		publisher:  publisher,
		metrics:    metrics,
		tracer:     otel.Tracer(tracerName),
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		newOrderID: entity.NewOrderID,
	}
}

// CheckoutCommand is a buyer's request to turn their cart into an order.
type CheckoutCommand struct {
	UserID          string
	IdempotencyKey  string
	ShippingAddress entity.Address
	PaymentMethod   string
}

func (c CheckoutCommand) validate() error {
	if c.UserID == "" {
		return entity.ErrUserIDRequired
	}
	if c.IdempotencyKey == "" {
		return entity.ErrIdempotencyKeyRequired
	}
	if c.PaymentMethod == "" {
		return entity.ErrPaymentMethodRequired
	}
	return c.ShippingAddress.Validate()
}

// reservation is one successful StockLedger.Reserve, kept for compensation.
type reservation struct {
	productID string
	variant   string
	quantity  int
}

// Checkout places an order from the user's cart. Stock is reserved item by
// item; any failure afterwards releases what was reserved. A repeated
// idempotency key returns the order it produced the first time.
func (s *OrderService) Checkout(ctx context.Context, cmd CheckoutCommand) (*entity.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Checkout", trace.WithAttributes(
		attribute.String("user.id", cmd.UserID),
	))
	defer span.End()

	start := time.Now()
	order, err := s.checkout(ctx, cmd)
	s.metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
	s.metrics.Checkouts.WithLabelValues(checkoutResult(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("Service: Checkout failed", "user_id", cmd.UserID, "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	return order, nil
}

func (s *OrderService) checkout(ctx context.Context, cmd CheckoutCommand) (*entity.Order, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	if existing, err := s.findByIdempotencyKey(ctx, cmd.UserID, cmd.IdempotencyKey); err != nil || existing != nil {
		if existing != nil {
			slog.Info("Service: Checkout replayed (idempotency)", "user_id", cmd.UserID, "order_id", existing.ID)
		}
		return existing, err
	}

	cart, err := s.carts.Load(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, entity.ErrEmptyCart
	}

	slog.Info("Service: Placing order", "user_id", cmd.UserID, "items", len(cart.Items))

	products := make([]*entity.Product, len(cart.Items))
	for i, item := range cart.Items {
		p, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if !p.Purchasable() {
			return nil, fmt.Errorf("product %s: %w", p.Name, entity.ErrProductUnavailable)
		}
		products[i] = p
	}

	reserved, err := s.reserve(ctx, cart.Items, products)
	if err != nil {
		return nil, err
	}

	agg, err := s.place(ctx, cmd, cart, products)
	if err != nil {
		s.compensate(ctx, reserved)
		if errors.Is(err, entity.ErrDuplicateIdempotencyKey) {
			// A concurrent retry with the same key committed first.
			existing, findErr := s.findByIdempotencyKey(ctx, cmd.UserID, cmd.IdempotencyKey)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := s.carts.Delete(ctx, cmd.UserID); err != nil {
		slog.Error("Service: Failed to clear cart after checkout", "user_id", cmd.UserID, "order_id", agg.ID, "err", err)
	}

	order := agg.Order
	s.dispatch(ctx, &order, placedEvents(&order), placedNotifications(&order))

	slog.Info("Service: Order placed", "order_id", order.ID, "user_id", order.UserID, "total", order.Pricing.TotalAmount.StringFixed(2))
	return &order, nil
}

func (s *OrderService) findByIdempotencyKey(ctx context.Context, userID, key string) (*entity.Order, error) {
	orderID, err := s.orders.FindIDByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, entity.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	agg, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &agg.Order, nil
}

// reserve takes stock for every cart line in cart order. On the first
// failure it releases what it already took.
func (s *OrderService) reserve(ctx context.Context, items []entity.CartItem, products []*entity.Product) ([]reservation, error) {
	reserved := make([]reservation, 0, len(items))
	for i, item := range items {
		err := s.ledger.Reserve(ctx, item.ProductID, item.Variant, item.Quantity)
		if err != nil {
			s.metrics.StockReservations.WithLabelValues("failed").Inc()
			s.compensate(ctx, reserved)
			if errors.Is(err, entity.ErrInsufficientStock) {
				return nil, &entity.InsufficientStockError{
					ProductID:   item.ProductID,
					ProductName: products[i].Name,
					Requested:   item.Quantity,
				}
			}
			return nil, fmt.Errorf("failed to reserve stock for %s: %w", item.ProductID, err)
		}
		s.metrics.StockReservations.WithLabelValues("reserved").Inc()
		reserved = append(reserved, reservation{productID: item.ProductID, variant: item.Variant, quantity: item.Quantity})
	}
	return reserved, nil
}

// compensate releases reservations on a context detached from the caller,
// so a cancelled request still returns its stock. Failures are logged.
func (s *OrderService) compensate(ctx context.Context, reserved []reservation) {
	if len(reserved) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()

	for _, r := range reserved {
		if err := s.ledger.Release(ctx, r.productID, r.variant, r.quantity); err != nil {
			s.metrics.CompensationFailures.Inc()
			slog.Error("Service: Failed to release reservation", "product_id", r.productID, "variant", r.variant, "quantity", r.quantity, "err", err)
			continue
		}
		s.metrics.Compensations.Inc()
	}
}

// place prices the order with authoritative prices and persists it,
// retrying with a fresh id when the generated one is taken.
func (s *OrderService) place(ctx context.Context, cmd CheckoutCommand, cart *entity.CartAggregate, products []*entity.Product) (*entity.OrderAggregate, error) {
	now := s.now()

	items := make([]entity.OrderItem, len(cart.Items))
	for i, line := range cart.Items {
		p := products[i]
		items[i] = entity.OrderItem{
			ID:        entity.NewItemID(),
			ProductID: p.ID,
			VendorID:  p.VendorID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  line.Quantity,
			ImageURL:  p.ImageURL,
			Variant:   line.Variant,
		}
	}
	lines := pricing.LinesFromItems(items)

	opts := repository.CreateOptions{IdempotencyKey: cmd.IdempotencyKey}
	discount := decimal.Zero
	var couponCode string
	if cart.Coupon != nil {
		// Revalidate against authoritative prices; the cart preview may be stale.
		itemsTotal := s.pricing.Price(lines, decimal.Zero, nil).ItemsTotal
		res, err := s.coupons.Validate(ctx, cart.Coupon.Code, cmd.UserID, itemsTotal, now)
		if err != nil {
			return nil, err
		}
		discount = res.Discount
		couponCode = res.Code
		opts.Redemption = &repository.CouponRedemption{
			Code:         res.Code,
			UserID:       cmd.UserID,
			UsagePerUser: res.UsagePerUser,
		}
	}
	totals := s.pricing.Price(lines, discount, s.shipping)

	for attempt := 1; ; attempt++ {
		orderID := s.newOrderID(now)
		agg := entity.NewOrderAggregate(orderID)
		err := agg.Place(entity.PlaceOrder{
			OrderID:         orderID,
			UserID:          cmd.UserID,
			Items:           items,
			ShippingAddress: cmd.ShippingAddress,
			Pricing:         totals,
			CouponCode:      couponCode,
			PaymentMethod:   cmd.PaymentMethod,
			PlacedAt:        now,
		})
		if err != nil {
			return nil, err
		}

		err = s.orders.Create(ctx, agg, opts)
		if err == nil {
			return agg, nil
		}
		if errors.Is(err, entity.ErrDuplicateOrderID) && attempt < s.opts.MaxOrderIDTries {
			slog.Warn("Service: Order id collision, retrying", "order_id", orderID, "attempt", attempt)
			continue
		}
		return nil, err
	}
}

// Cancel cancels every open item of the buyer's order and returns their
// stock. The cancellation is persisted before any stock is released.
func (s *OrderService) Cancel(ctx context.Context, orderID, requesterID, reason string) (*entity.Order, error) {
	slog.Info("Service: Cancelling order", "order_id", orderID, "requester_id", requesterID)

	ctx, span := s.tracer.Start(ctx, "OrderService.Cancel", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	agg, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	open, err := agg.Cancel(requesterID, reason, s.now())
	if err != nil {
		return nil, err
	}
	changes := agg.Changes()

	if err := s.orders.Update(ctx, agg); err != nil {
		return nil, fmt.Errorf("failed to save cancelled order: %w", err)
	}
	s.metrics.Cancellations.Inc()

	s.release(ctx, orderID, open)

	order := agg.Order
	s.dispatch(ctx, &order, changes, lifecycleNotifications(&order, open,
		messaging.NotifyOrderCancelled, messaging.NotifyVendorOrderCancelled))
	return &order, nil
}

// RequestReturn returns a delivered order on behalf of its buyer.
func (s *OrderService) RequestReturn(ctx context.Context, orderID, requesterID, reason string) (*entity.Order, error) {
	slog.Info("Service: Returning order", "order_id", orderID, "requester_id", requesterID)

	ctx, span := s.tracer.Start(ctx, "OrderService.RequestReturn", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	agg, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	returned, err := agg.RequestReturn(requesterID, reason, s.now())
	if err != nil {
		return nil, err
	}
	changes := agg.Changes()

	if err := s.orders.Update(ctx, agg); err != nil {
		return nil, fmt.Errorf("failed to save returned order: %w", err)
	}
	s.metrics.Returns.Inc()

	if s.opts.RestockOnReturn {
		s.release(ctx, orderID, returned)
	}

	order := agg.Order
	s.dispatch(ctx, &order, changes, lifecycleNotifications(&order, returned,
		messaging.NotifyOrderReturned, messaging.NotifyVendorOrderReturned))
	return &order, nil
}

// UpdateItemStatusCommand is a vendor's request to move one of its items.
type UpdateItemStatusCommand struct {
	OrderID        string
	ItemID         string
	VendorID       string
	Status         entity.FulfillmentStatus
	TrackingNumber string
}

// UpdateItemStatus moves an order item along the fulfillment state machine.
// A vendor cancelling its item releases that item's stock; cancelling the
// last open item cancels the order and refunds a paid payment.
func (s *OrderService) UpdateItemStatus(ctx context.Context, cmd UpdateItemStatusCommand) (*entity.Order, error) {
	slog.Info("Service: Updating item status", "order_id", cmd.OrderID, "item_id", cmd.ItemID, "vendor_id", cmd.VendorID, "status", cmd.Status)

	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateItemStatus", trace.WithAttributes(
		attribute.String("order.id", cmd.OrderID),
		attribute.String("item.status", string(cmd.Status)),
	))
	defer span.End()

	if cmd.VendorID == "" {
		return nil, entity.ErrNotItemVendor
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	agg, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	item, err := agg.TransitionItem(cmd.ItemID, cmd.VendorID, cmd.Status, cmd.TrackingNumber, s.now())
	if err != nil {
		return nil, err
	}
	changes := agg.Changes()

	if err := s.orders.Update(ctx, agg); err != nil {
		return nil, fmt.Errorf("failed to save item status: %w", err)
	}
	s.metrics.ItemTransitions.WithLabelValues(string(item.Status)).Inc()

	if item.Status == entity.StatusCancelled {
		s.release(ctx, cmd.OrderID, []entity.OrderItem{item})
	}

	order := agg.Order
	notes := []notification{{
		recipientID: order.UserID,
		kind:        messaging.NotifyItemStatusChanged,
		payload:     newOrderNotification(&order, []entity.OrderItem{item}, ""),
	}}
	if item.Status == entity.StatusCancelled && order.Status == entity.StatusCancelled {
		slog.Info("Service: Order cancelled by its vendors", "order_id", order.ID, "payment_status", order.PaymentStatus)
		s.metrics.Cancellations.Inc()
		notes = append(notes, notification{
			recipientID: order.UserID,
			kind:        messaging.NotifyOrderCancelled,
			payload:     newOrderNotification(&order, order.Items, order.CancellationReason),
		})
	}
	s.dispatch(ctx, &order, changes, notes)
	return &order, nil
}

// ConfirmPayment asks the payment processor to confirm the order's payment
// and records the outcome. A declined payment is recorded, not returned as an error.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID, requesterID string) (*entity.Order, error) {
	slog.Info("Service: Confirming payment", "order_id", orderID)

	ctx, span := s.tracer.Start(ctx, "OrderService.ConfirmPayment", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	agg, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if agg.UserID != requesterID {
		return nil, entity.ErrNotOrderOwner
	}
	if err := agg.CanRecordPayment(); err != nil {
		return nil, err
	}

	res, err := s.payments.Confirm(ctx, agg.PaymentMethod, agg.Pricing.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	status := entity.PaymentFailed
	if res.Paid {
		status = entity.PaymentPaid
	} else {
		slog.Warn("Service: Payment declined", "order_id", orderID, "reason", res.Reason)
	}
	if err := agg.RecordPayment(status, res.Reference, s.now()); err != nil {
		return nil, err
	}
	changes := agg.Changes()

	if err := s.orders.Update(ctx, agg); err != nil {
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}

	order := agg.Order
	s.dispatch(ctx, &order, changes, []notification{{
		recipientID: order.UserID,
		kind:        messaging.NotifyPaymentRecorded,
		payload:     newOrderNotification(&order, nil, res.Reason),
	}})
	return &order, nil
}

// GetOrder returns an order to its buyer.
func (s *OrderService) GetOrder(ctx context.Context, orderID, requesterID string) (*entity.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	agg, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if agg.UserID != requesterID {
		return nil, entity.ErrNotOrderOwner
	}
	return &agg.Order, nil
}

// ListOrdersByUser returns the buyer's latest orders, newest first.
func (s *OrderService) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]entity.Order, error) {
	if userID == "" {
		return nil, entity.ErrUserIDRequired
	}
	if limit <= 0 || limit > s.opts.ListLimit {
		limit = s.opts.ListLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	return s.orders.FindByUser(ctx, userID, limit)
}

// ListOrdersByVendor returns the latest orders containing the vendor's
// items. Each order carries only that vendor's items.
func (s *OrderService) ListOrdersByVendor(ctx context.Context, vendorID string, limit int) ([]entity.Order, error) {
	if vendorID == "" {
		return nil, entity.ErrNotItemVendor
	}
	if limit <= 0 || limit > s.opts.ListLimit {
		limit = s.opts.ListLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	orders, err := s.orders.FindByVendor(ctx, vendorID, limit)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = orders[i].ItemsForVendor(vendorID)
	}
	return orders, nil
}

// History returns the order's event stream to its buyer.
func (s *OrderService) History(ctx context.Context, orderID, requesterID string) ([]entity.EventStoreRecord, error) {
	if _, err := s.GetOrder(ctx, orderID, requesterID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	return s.events.LoadEvents(ctx, orderID)
}

// Wait blocks until every dispatched notification has finished.
func (s *OrderService) Wait() {
	s.pending.Wait()
}

// release returns the stock of items after their order change is durable.
// Failures are logged; the order change stands.
func (s *OrderService) release(ctx context.Context, orderID string, items []entity.OrderItem) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()

	for _, item := range items {
		if err := s.ledger.Release(ctx, item.ProductID, item.Variant, item.Quantity); err != nil {
			s.metrics.CompensationFailures.Inc()
			slog.Error("Service: Failed to release stock", "order_id", orderID, "product_id", item.ProductID, "quantity", item.Quantity, "err", err)
		}
	}
}

// dispatch publishes domain events and sends notifications in the
// background, bounded by NotifyTimeout. Nothing here fails the caller.
func (s *OrderService) dispatch(ctx context.Context, order *entity.Order, events []entity.Event, notes []notification) {
	ctx = context.WithoutCancel(ctx)
	orderID := order.ID

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
		defer cancel()

		var g errgroup.Group
		g.SetLimit(notifyConcurrency)

		g.Go(func() error {
			// Events of one order go out in order.
			for _, e := range events {
				if err := s.publisher.PublishEvent(ctx, topicFor(e), orderID, e); err != nil {
					s.metrics.NotificationFailures.Inc()
					slog.Error("Service: Failed to publish event", "order_id", orderID, "event", e.EventType(), "err", err)
				}
			}
			return nil
		})

		for _, n := range notes {
			g.Go(func() error {
				if err := s.notifier.Notify(ctx, n.recipientID, n.kind, n.payload); err != nil {
					s.metrics.NotificationFailures.Inc()
					slog.Error("Service: Failed to notify", "order_id", orderID, "recipient_id", n.recipientID, "type", n.kind, "err", err)
				}
				return nil
			})
		}

		_ = g.Wait()
	}()
}
