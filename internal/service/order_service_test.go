package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/coupon"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/messaging"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/observability"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/payment"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/pricing"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository/sqlstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddress = entity.Address{
	RecipientName: "Ada Lovelace",
	Line1:         "12 Analytical Way",
	City:          "London",
	PostalCode:    "N1 9GU",
	Country:       "GB",
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type sentNotification struct {
	recipientID string
	kind        string
	payload     any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, recipientID, kind string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{recipientID: recipientID, kind: kind, payload: payload})
	return n.err
}

func (n *recordingNotifier) byKind(kind string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) PublishEvent(_ context.Context, topic, _ string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type harness struct {
	orders    *OrderService
	carts     *CartService
	products  repository.ProductRepository
	coupons   repository.CouponRepository
	notifier  *recordingNotifier
	publisher *recordingPublisher
	metrics   *observability.Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	db, err := sqlstore.InitDB(context.Background(), sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	products := sqlstore.NewProductRepository(db)
	coupons := sqlstore.NewCouponRepository(db)
	carts := sqlstore.NewCartRepository(db)
	validator := coupon.NewValidator(coupons)

	h := &harness{
		products:  products,
		coupons:   coupons,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		metrics:   observability.NewMetrics(prometheus.NewRegistry()),
	}
	h.carts = NewCartService(carts, products, validator, time.Second)
	h.orders = NewOrderService(
		sqlstore.NewOrderRepository(db),
		products,
		sqlstore.NewStockLedger(db),
		carts,
		sqlstore.NewEventStore(db),
		validator,
		pricing.NewEngine(dec("10")),
		pricing.FlatRate{Fee: dec("50")},
		payment.NewSimulated("card", "cod"),
		h.notifier,
		h.publisher,
		h.metrics,
		opts,
	)
	t.Cleanup(h.orders.Wait)
	return h
}

func (h *harness) product(t *testing.T, id, vendorID, price string, stock int) {
	t.Helper()
	require.NoError(t, h.products.Save(context.Background(), &entity.Product{
		ID:       id,
		VendorID: vendorID,
		Name:     "Product " + id,
		Price:    dec(price),
		Stock:    stock,
	}))
}

func (h *harness) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := h.products.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (h *harness) addToCart(t *testing.T, userID, productID string, qty int) {
	t.Helper()
	_, err := h.carts.AddItem(context.Background(), userID, productID, "", qty)
	require.NoError(t, err)
}

func (h *harness) checkout(userID, key string) (*entity.Order, error) {
	return h.orders.Checkout(context.Background(), CheckoutCommand{
		UserID:          userID,
		IdempotencyKey:  key,
		ShippingAddress: testAddress,
		PaymentMethod:   "card",
	})
}

func (h *harness) advance(t *testing.T, order *entity.Order, itemID string, statuses ...entity.FulfillmentStatus) *entity.Order {
	t.Helper()
	vendorID := ""
	for _, item := range order.Items {
		if item.ID == itemID {
			vendorID = item.VendorID
		}
	}
	for _, status := range statuses {
		var err error
		order, err = h.orders.UpdateItemStatus(context.Background(), UpdateItemStatusCommand{
			OrderID:        order.ID,
			ItemID:         itemID,
			VendorID:       vendorID,
			Status:         status,
			TrackingNumber: "TRK-" + itemID[:8],
		})
		require.NoError(t, err)
	}
	return order
}

func TestCheckout_PricesWithCoupon(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 10)
	require.NoError(t, h.coupons.Save(ctx, &entity.Coupon{
		Code:        "SAVE10",
		Type:        entity.DiscountPercentage,
		Value:       dec("10"),
		MaxDiscount: decimal.NewNullDecimal(dec("15")),
		ValidFrom:   time.Now().Add(-time.Hour),
		ValidUntil:  time.Now().Add(time.Hour),
		Active:      true,
	}))

	h.addToCart(t, "u1", "p1", 2)
	_, err := h.carts.ApplyCoupon(ctx, "u1", "save10")
	require.NoError(t, err)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)

	assert.True(t, order.Pricing.ItemsTotal.Equal(dec("200")))
	assert.True(t, order.Pricing.Discount.Equal(dec("15")))
	assert.True(t, order.Pricing.Tax.Equal(dec("20")))
	assert.True(t, order.Pricing.ShippingCost.Equal(dec("50")))
	assert.True(t, order.Pricing.TotalAmount.Equal(dec("255")), "got %s", order.Pricing.TotalAmount)
	assert.Equal(t, "SAVE10", order.CouponCode)
	assert.NoError(t, pricing.Verify(order))

	assert.Equal(t, entity.StatusPending, order.Status)
	assert.Equal(t, entity.PaymentPending, order.PaymentStatus)
	assert.Equal(t, 8, h.stock(t, "p1"))

	cart, err := h.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	saved, err := h.coupons.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.UsedCount)
	assert.Equal(t, 1, saved.UsedBy["u1"])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Checkouts.WithLabelValues("placed")))
}

func TestCheckout_NotifiesBuyerAndEachVendor(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "v1", "100", 5)
	h.product(t, "p2", "v2", "30", 5)
	h.addToCart(t, "u1", "p1", 1)
	h.addToCart(t, "u1", "p2", 2)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)
	h.orders.Wait()

	confirmations := h.notifier.byKind(messaging.NotifyOrderConfirmation)
	require.Len(t, confirmations, 1)
	assert.Equal(t, "u1", confirmations[0].recipientID)

	vendorNotes := h.notifier.byKind(messaging.NotifyVendorNewOrder)
	require.Len(t, vendorNotes, 2)
	for _, note := range vendorNotes {
		payload := note.payload.(OrderNotification)
		assert.Equal(t, order.ID, payload.OrderID)
		require.Len(t, payload.Items, 1)
		assert.Equal(t, note.recipientID, payload.Items[0].VendorID)
	}

	assert.Equal(t, []string{messaging.TopicOrderPlaced}, h.publisher.published())
}

func TestCheckout_NotificationFailureDoesNotFailCheckout(t *testing.T) {
	h := newHarness(t, Options{})
	h.notifier.err = errors.New("smtp down")
	h.product(t, "p1", "v1", "100", 5)
	h.addToCart(t, "u1", "p1", 1)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)

	h.orders.Wait()
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.NotificationFailures))
}

func TestCheckout_InsufficientStockRollsBack(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 5)
	h.product(t, "p2", "v2", "40", 0)
	h.addToCart(t, "u1", "p1", 1)
	h.addToCart(t, "u1", "p2", 1)

	_, err := h.checkout("u1", "key-1")
	require.Error(t, err)

	var stockErr *entity.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "p2", stockErr.ProductID)
	assert.Equal(t, "Product p2", stockErr.ProductName)
	assert.ErrorIs(t, err, entity.ErrConflict)

	assert.Equal(t, 5, h.stock(t, "p1"))
	assert.Equal(t, 0, h.stock(t, "p2"))

	orders, err := h.orders.ListOrdersByUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, orders)

	cart, err := h.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Compensations))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Checkouts.WithLabelValues("insufficient_stock")))
}

func TestCheckout_LastUnitHasOneWinner(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "v1", "100", 1)
	h.addToCart(t, "u1", "p1", 1)
	h.addToCart(t, "u2", "p1", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.checkout(user, "key-"+user)
		}()
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, entity.ErrInsufficientStock):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 0, h.stock(t, "p1"))
}

func TestCheckout_Idempotent(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "v1", "100", 5)
	h.addToCart(t, "u1", "p1", 2)

	first, err := h.checkout("u1", "key-1")
	require.NoError(t, err)

	second, err := h.checkout("u1", "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, h.stock(t, "p1"))
}

func TestCheckout_RetriesOnDuplicateOrderID(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "v1", "100", 5)

	ids := []string{"ORD-A", "ORD-A", "ORD-B"}
	h.orders.newOrderID = func(time.Time) string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	h.addToCart(t, "u1", "p1", 1)
	first, err := h.checkout("u1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-A", first.ID)

	h.addToCart(t, "u2", "p1", 1)
	second, err := h.checkout("u2", "key-2")
	require.NoError(t, err)
	assert.Equal(t, "ORD-B", second.ID)
	assert.Equal(t, 3, h.stock(t, "p1"))
}

func TestCheckout_Validation(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.orders.Checkout(context.Background(), CheckoutCommand{UserID: "u1", PaymentMethod: "card", ShippingAddress: testAddress})
	assert.ErrorIs(t, err, entity.ErrIdempotencyKeyRequired)

	_, err = h.orders.Checkout(context.Background(), CheckoutCommand{UserID: "u1", IdempotencyKey: "k", PaymentMethod: "card"})
	assert.ErrorIs(t, err, entity.ErrInvalidAddress)

	_, err = h.checkout("u1", "key-1")
	assert.ErrorIs(t, err, entity.ErrEmptyCart)
}

func TestCheckout_CouponConsumedOnlyByOrder(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 10)
	require.NoError(t, h.coupons.Save(ctx, &entity.Coupon{
		Code:         "ONCE",
		Type:         entity.DiscountFixed,
		Value:        dec("5"),
		ValidFrom:    time.Now().Add(-time.Hour),
		ValidUntil:   time.Now().Add(time.Hour),
		UsagePerUser: 1,
		Active:       true,
	}))

	h.addToCart(t, "u1", "p1", 1)
	_, err := h.carts.ApplyCoupon(ctx, "u1", "ONCE")
	require.NoError(t, err)
	_, err = h.carts.ApplyCoupon(ctx, "u1", "ONCE")
	require.NoError(t, err, "validation alone must not consume the coupon")

	_, err = h.checkout("u1", "key-1")
	require.NoError(t, err)

	h.addToCart(t, "u1", "p1", 1)
	_, err = h.carts.ApplyCoupon(ctx, "u1", "ONCE")
	assert.ErrorIs(t, err, entity.ErrCouponUserLimitReached)
}

func TestCancel_RestoresStock(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 10)
	h.product(t, "p2", "v2", "20", 4)
	h.addToCart(t, "u1", "p1", 3)
	h.addToCart(t, "u1", "p2", 4)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, 7, h.stock(t, "p1"))
	assert.Equal(t, 0, h.stock(t, "p2"))

	_, err = h.orders.Cancel(ctx, order.ID, "u2", "not mine")
	assert.ErrorIs(t, err, entity.ErrNotOrderOwner)

	cancelled, err := h.orders.Cancel(ctx, order.ID, "u1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancellationReason)
	assert.Equal(t, 10, h.stock(t, "p1"))
	assert.Equal(t, 4, h.stock(t, "p2"))

	p2, err := h.products.FindByID(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, entity.ProductActive, p2.Status)

	_, err = h.orders.Cancel(ctx, order.ID, "u1", "again")
	assert.ErrorIs(t, err, entity.ErrInvalidStateForCancellation)
	assert.Equal(t, 10, h.stock(t, "p1"))

	h.orders.Wait()
	assert.Len(t, h.notifier.byKind(messaging.NotifyOrderCancelled), 1)
	assert.Len(t, h.notifier.byKind(messaging.NotifyVendorOrderCancelled), 2)
}

func TestCancel_AfterShipmentRefused(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "v1", "100", 5)
	h.product(t, "p2", "v2", "100", 5)
	h.addToCart(t, "u1", "p1", 1)
	h.addToCart(t, "u1", "p2", 1)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)
	order = h.advance(t, order, order.Items[0].ID, entity.StatusProcessing, entity.StatusShipped)

	_, err = h.orders.Cancel(context.Background(), order.ID, "u1", "too late")
	assert.ErrorIs(t, err, entity.ErrInvalidStateForCancellation)
	assert.Equal(t, 4, h.stock(t, "p1"))
	assert.Equal(t, 4, h.stock(t, "p2"))

	current, err := h.orders.GetOrder(context.Background(), order.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, current.Items[1].Status)
}

func TestUpdateItemStatus_DerivesShipped(t *testing.T) {
	h := newHarness(t, Options{})
	for _, id := range []string{"p1", "p2", "p3"} {
		h.product(t, id, "v-"+id, "10", 5)
		h.addToCart(t, "u1", id, 1)
	}

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)

	order = h.advance(t, order, order.Items[0].ID, entity.StatusProcessing, entity.StatusShipped)
	order = h.advance(t, order, order.Items[1].ID, entity.StatusProcessing, entity.StatusShipped)
	assert.Equal(t, entity.StatusPending, order.Status)

	order = h.advance(t, order, order.Items[2].ID, entity.StatusProcessing)
	assert.Equal(t, entity.StatusPending, order.Status)

	order = h.advance(t, order, order.Items[2].ID, entity.StatusShipped)
	assert.Equal(t, entity.StatusShipped, order.Status)
	assert.NotNil(t, order.Items[2].ShippedAt)
	assert.NotEmpty(t, order.Items[2].TrackingNumber)

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.ItemTransitions.WithLabelValues("shipped")))
}

func TestUpdateItemStatus_Rules(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 5)
	h.addToCart(t, "u1", "p1", 1)
	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)
	itemID := order.Items[0].ID

	_, err = h.orders.UpdateItemStatus(ctx, UpdateItemStatusCommand{OrderID: order.ID, ItemID: itemID, VendorID: "v2", Status: entity.StatusProcessing})
	assert.ErrorIs(t, err, entity.ErrNotItemVendor)

	_, err = h.orders.UpdateItemStatus(ctx, UpdateItemStatusCommand{OrderID: order.ID, ItemID: itemID, VendorID: "v1", Status: entity.StatusDelivered})
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	_, err = h.orders.UpdateItemStatus(ctx, UpdateItemStatusCommand{OrderID: order.ID, ItemID: "missing", VendorID: "v1", Status: entity.StatusProcessing})
	assert.ErrorIs(t, err, entity.ErrOrderItemNotFound)

	_, err = h.orders.UpdateItemStatus(ctx, UpdateItemStatusCommand{OrderID: "ORD-missing", ItemID: itemID, VendorID: "v1", Status: entity.StatusProcessing})
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestUpdateItemStatus_VendorCancelReleasesItem(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "v1", "100", 5)
	h.product(t, "p2", "v2", "100", 5)
	h.addToCart(t, "u1", "p1", 2)
	h.addToCart(t, "u1", "p2", 1)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)

	order = h.advance(t, order, order.Items[0].ID, entity.StatusCancelled)
	assert.Equal(t, 5, h.stock(t, "p1"))
	assert.Equal(t, 4, h.stock(t, "p2"))
	assert.Equal(t, entity.StatusPending, order.Status)

	order = h.advance(t, order, order.Items[1].ID, entity.StatusCancelled)
	assert.Equal(t, entity.StatusCancelled, order.Status)
	assert.Equal(t, 5, h.stock(t, "p2"))
}

func TestUpdateItemStatus_VendorsCancelPaidOrder(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 5)
	h.product(t, "p2", "v2", "100", 5)
	h.addToCart(t, "u1", "p1", 1)
	h.addToCart(t, "u1", "p2", 1)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)
	order, err = h.orders.ConfirmPayment(ctx, order.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, entity.PaymentPaid, order.PaymentStatus)

	order = h.advance(t, order, order.Items[0].ID, entity.StatusCancelled)
	assert.Equal(t, entity.PaymentPaid, order.PaymentStatus)
	order = h.advance(t, order, order.Items[1].ID, entity.StatusCancelled)

	assert.Equal(t, entity.StatusCancelled, order.Status)
	assert.Equal(t, entity.PaymentRefunded, order.PaymentStatus)
	require.NotNil(t, order.CancelledAt)
	assert.Equal(t, 5, h.stock(t, "p1"))
	assert.Equal(t, 5, h.stock(t, "p2"))

	stored, err := h.orders.GetOrder(ctx, order.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentRefunded, stored.PaymentStatus)
	require.NotNil(t, stored.CancelledAt)

	history, err := h.orders.History(ctx, order.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCancelled{}.EventType(), history[len(history)-1].EventType)

	_, err = h.orders.Cancel(ctx, order.ID, "u1", "again")
	assert.ErrorIs(t, err, entity.ErrInvalidStateForCancellation)

	h.orders.Wait()
	assert.Len(t, h.notifier.byKind(messaging.NotifyOrderCancelled), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Cancellations))
}

func TestUpdateItemStatus_VendorCannotReturnItem(t *testing.T) {
	h := newHarness(t, Options{RestockOnReturn: true})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 5)
	h.addToCart(t, "u1", "p1", 1)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)
	order = h.advance(t, order, order.Items[0].ID, entity.StatusProcessing, entity.StatusShipped, entity.StatusDelivered)

	_, err = h.orders.UpdateItemStatus(ctx, UpdateItemStatusCommand{OrderID: order.ID, ItemID: order.Items[0].ID, VendorID: "v1", Status: entity.StatusReturned})
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
	assert.Equal(t, 4, h.stock(t, "p1"))

	returned, err := h.orders.RequestReturn(ctx, order.ID, "u1", "wrong size")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusReturned, returned.Items[0].Status)
	assert.Equal(t, 5, h.stock(t, "p1"))
}

func TestRequestReturn(t *testing.T) {
	for _, restock := range []bool{false, true} {
		h := newHarness(t, Options{RestockOnReturn: restock})
		ctx := context.Background()
		h.product(t, "p1", "v1", "100", 5)
		h.addToCart(t, "u1", "p1", 2)

		order, err := h.checkout("u1", "key-1")
		require.NoError(t, err)

		_, err = h.orders.RequestReturn(ctx, order.ID, "u1", "early")
		assert.ErrorIs(t, err, entity.ErrInvalidStateForReturn)

		order = h.advance(t, order, order.Items[0].ID, entity.StatusProcessing, entity.StatusShipped, entity.StatusDelivered)
		assert.Equal(t, entity.StatusDelivered, order.Status)

		returned, err := h.orders.RequestReturn(ctx, order.ID, "u1", "wrong size")
		require.NoError(t, err)
		assert.Equal(t, entity.StatusReturned, returned.Status)
		assert.Equal(t, "wrong size", returned.ReturnReason)

		if restock {
			assert.Equal(t, 5, h.stock(t, "p1"))
		} else {
			assert.Equal(t, 3, h.stock(t, "p1"))
		}
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Returns))
	}
}

func TestConfirmPayment(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 5)
	h.addToCart(t, "u1", "p1", 1)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)

	_, err = h.orders.ConfirmPayment(ctx, order.ID, "u2")
	assert.ErrorIs(t, err, entity.ErrNotOrderOwner)

	paid, err := h.orders.ConfirmPayment(ctx, order.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentPaid, paid.PaymentStatus)
	assert.NotEmpty(t, paid.PaymentReference)
	assert.Equal(t, entity.StatusPending, paid.Items[0].Status)

	_, err = h.orders.ConfirmPayment(ctx, order.ID, "u1")
	assert.ErrorIs(t, err, entity.ErrPaymentAlreadySettled)

	cancelled, err := h.orders.Cancel(ctx, order.ID, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentRefunded, cancelled.PaymentStatus)
}

func TestConfirmPayment_DeclinedMethodIsRecorded(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "v1", "100", 5)
	h.addToCart(t, "u1", "p1", 1)

	order, err := h.orders.Checkout(context.Background(), CheckoutCommand{
		UserID:          "u1",
		IdempotencyKey:  "key-1",
		ShippingAddress: testAddress,
		PaymentMethod:   "wallet",
	})
	require.NoError(t, err)

	failed, err := h.orders.ConfirmPayment(context.Background(), order.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentFailed, failed.PaymentStatus)
}

func TestQueries(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.product(t, "p1", "v1", "100", 5)
	h.product(t, "p2", "v2", "100", 5)
	h.addToCart(t, "u1", "p1", 1)
	h.addToCart(t, "u1", "p2", 1)

	order, err := h.checkout("u1", "key-1")
	require.NoError(t, err)

	_, err = h.orders.GetOrder(ctx, order.ID, "u2")
	assert.ErrorIs(t, err, entity.ErrNotOrderOwner)

	mine, err := h.orders.ListOrdersByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Len(t, mine[0].Items, 2)

	vendorOrders, err := h.orders.ListOrdersByVendor(ctx, "v2", 10)
	require.NoError(t, err)
	require.Len(t, vendorOrders, 1)
	require.Len(t, vendorOrders[0].Items, 1)
	assert.Equal(t, "p2", vendorOrders[0].Items[0].ProductID)

	h.advance(t, order, order.Items[0].ID, entity.StatusProcessing)

	history, err := h.orders.History(ctx, order.ID, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "OrderPlaced", history[0].EventType)
	assert.Equal(t, "ItemStatusChanged", history[1].EventType)

	var rebuilt entity.OrderAggregate
	require.NoError(t, rebuilt.Rehydrate(history))
	assert.Equal(t, 2, rebuilt.Version)
	assert.Equal(t, entity.StatusProcessing, rebuilt.Items[0].Status)
}
