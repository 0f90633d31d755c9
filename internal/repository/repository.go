package repository

import (
	"context"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
)

// ProductRepository is the authoritative product catalog.
type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Product, error)
	FindVariant(ctx context.Context, productID, selector string) (*entity.ProductVariant, error)
	FindAll(ctx context.Context) ([]entity.Product, error)
	Save(ctx context.Context, p *entity.Product) error
	SaveVariant(ctx context.Context, v *entity.ProductVariant) error
	// Seed inserts initial products if none exist.
	Seed(ctx context.Context, products []entity.Product) error
}

// StockLedger mutates inventory atomically. Reserve decrements only when
// enough stock is left, as one conditional statement; Release is its
// compensating inverse. The ledger does not deduplicate calls.
type StockLedger interface {
	Reserve(ctx context.Context, productID, variant string, quantity int) error
	Release(ctx context.Context, productID, variant string, quantity int) error
}

// CartRepository stores carts. Load returns an empty cart when none exists.
type CartRepository interface {
	Load(ctx context.Context, userID string) (*entity.CartAggregate, error)
	Save(ctx context.Context, cart *entity.CartAggregate) error
	Delete(ctx context.Context, userID string) error
}

// CouponRepository handles persistence for coupons and their usage.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (*entity.Coupon, error)
	Save(ctx context.Context, c *entity.Coupon) error
}

// CouponRedemption consumes one use of a coupon for a user.
type CouponRedemption struct {
	Code         string
	UserID       string
	UsagePerUser int
}

// CreateOptions carries what must be committed together with a new order.
type CreateOptions struct {
	IdempotencyKey string
	Redemption     *CouponRedemption
}

// OrderRepository handles persistence for Orders. Create and Update also
// append the aggregate's pending events to the order's event stream in the
// same transaction.
type OrderRepository interface {
	Create(ctx context.Context, order *entity.OrderAggregate, opts CreateOptions) error
	Update(ctx context.Context, order *entity.OrderAggregate) error
	FindByID(ctx context.Context, id string) (*entity.OrderAggregate, error)
	FindIDByIdempotencyKey(ctx context.Context, userID, key string) (string, error)
	FindByUser(ctx context.Context, userID string, limit int) ([]entity.Order, error)
	FindByVendor(ctx context.Context, vendorID string, limit int) ([]entity.Order, error)
}

// EventStore handles appending and loading events for an aggregate stream.
type EventStore interface {
	SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error
	LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error)
}
