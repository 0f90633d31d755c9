package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CartItem represents an item currently in a user's cart.
// UnitPriceSnapshot is informational; checkout re-reads the live price.
type CartItem struct {
	ProductID         string          `json:"product_id"`
	Variant           string          `json:"variant,omitempty"`
	Quantity          int             `json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unit_price_snapshot"`
	AddedAt           time.Time       `json:"added_at"`
}

// AppliedCoupon is a coupon attached to a cart with its previewed discount.
type AppliedCoupon struct {
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount"`
}

// CartAggregate is the mutable pre-order basket of one user. The aggregate
// id is the owning user id.
type CartAggregate struct {
	AggregateBase
	Items     []CartItem     `json:"items"`
	Coupon    *AppliedCoupon `json:"coupon,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewCartAggregate creates an empty cart for userID.
func NewCartAggregate(userID string) *CartAggregate {
	return &CartAggregate{
		AggregateBase: AggregateBase{ID: userID, Version: 0},
		Items:         []CartItem{},
	}
}

// IsEmpty reports whether the cart has no items.
func (c *CartAggregate) IsEmpty() bool { return len(c.Items) == 0 }

// AddItem adds quantity of a product variant, merging with an existing line.
func (c *CartAggregate) AddItem(productID, variant string, quantity int, price decimal.Decimal, at time.Time) error {
	if productID == "" {
		return ErrProductIDRequired
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if idx := c.indexOf(productID, variant); idx >= 0 {
		c.Items[idx].Quantity += quantity
		c.Items[idx].UnitPriceSnapshot = price
	} else {
		c.Items = append(c.Items, CartItem{
			ProductID:         productID,
			Variant:           variant,
			Quantity:          quantity,
			UnitPriceSnapshot: price,
			AddedAt:           at,
		})
	}
	c.touch(at)
	return nil
}

// UpdateQuantity replaces the quantity of an existing line.
func (c *CartAggregate) UpdateQuantity(productID, variant string, quantity int, at time.Time) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	idx := c.indexOf(productID, variant)
	if idx < 0 {
		return fmt.Errorf("product %s: %w", productID, ErrCartItemNotFound)
	}
	c.Items[idx].Quantity = quantity
	c.touch(at)
	return nil
}

// RemoveItem deletes a line from the cart.
func (c *CartAggregate) RemoveItem(productID, variant string, at time.Time) error {
	idx := c.indexOf(productID, variant)
	if idx < 0 {
		return fmt.Errorf("product %s: %w", productID, ErrCartItemNotFound)
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	c.touch(at)
	return nil
}

// Clear empties the cart and detaches any coupon.
func (c *CartAggregate) Clear(at time.Time) {
	c.Items = []CartItem{}
	c.Coupon = nil
	c.touch(at)
}

// ApplyCoupon attaches a validated coupon, replacing any previous one.
func (c *CartAggregate) ApplyCoupon(code string, discount decimal.Decimal, at time.Time) {
	c.Coupon = &AppliedCoupon{Code: code, Discount: discount}
	c.touch(at)
}

// RemoveCoupon detaches the applied coupon, if any.
func (c *CartAggregate) RemoveCoupon(at time.Time) {
	c.Coupon = nil
	c.touch(at)
}

// SnapshotTotal sums the add-time prices. It is a preview, not an order total.
func (c *CartAggregate) SnapshotTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func (c *CartAggregate) indexOf(productID, variant string) int {
	for i, item := range c.Items {
		if item.ProductID == productID && item.Variant == variant {
			return i
		}
	}
	return -1
}

func (c *CartAggregate) touch(at time.Time) {
	c.UpdatedAt = at
	c.Version++
}
