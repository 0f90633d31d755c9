// Package coupon validates discount codes and computes their discount.
//
// Validation never changes usage counters: previews may be repeated freely,
// and usage is consumed only when an order is persisted.
package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Finder loads coupons by normalized code.
type Finder interface {
	FindByCode(ctx context.Context, code string) (*entity.Coupon, error)
}

// Result is the outcome of a successful validation.
type Result struct {
	Code         string          `json:"code"`
	Discount     decimal.Decimal `json:"discount"`
	UsagePerUser int             `json:"-"`
}

// Validator checks coupons against the store and the caller's cart.
type Validator struct {
	coupons Finder
}

// NewValidator creates a Validator reading coupons from finder.
func NewValidator(finder Finder) *Validator {
	return &Validator{coupons: finder}
}

// Validate looks up code and evaluates it for userID and cartTotal at now.
func (v *Validator) Validate(ctx context.Context, code, userID string, cartTotal decimal.Decimal, now time.Time) (Result, error) {
	normalized := entity.NormalizeCouponCode(code)
	if normalized == "" {
		return Result{}, entity.ErrCouponCodeRequired
	}

	c, err := v.coupons.FindByCode(ctx, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load coupon %s: %w", normalized, err)
	}

	discount, err := Evaluate(c, userID, cartTotal, now)
	if err != nil {
		return Result{}, fmt.Errorf("coupon %s: %w", normalized, err)
	}
	return Result{Code: c.Code, Discount: discount, UsagePerUser: c.UsagePerUser}, nil
}

// Evaluate runs the checks in order: active, validity window, minimum
// purchase, global limit, per-user limit; then computes the discount.
func Evaluate(c *entity.Coupon, userID string, cartTotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !c.Active {
		return decimal.Zero, entity.ErrCouponInactive
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return decimal.Zero, entity.ErrCouponExpired
	}
	if cartTotal.LessThan(c.MinPurchase) {
		return decimal.Zero, entity.ErrCouponBelowMinPurchase
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return decimal.Zero, entity.ErrCouponGlobalLimitReached
	}
	if c.UsagePerUser > 0 && c.UsedBy[userID] >= c.UsagePerUser {
		return decimal.Zero, entity.ErrCouponUserLimitReached
	}
	return ComputeDiscount(c, cartTotal), nil
}

// ComputeDiscount returns the discount of c for cartTotal. Percentage
// discounts are rounded to cents and clamped to MaxDiscount; fixed
// discounts are returned verbatim.
func ComputeDiscount(c *entity.Coupon, cartTotal decimal.Decimal) decimal.Decimal {
	switch c.Type {
	case entity.DiscountPercentage:
		discount := cartTotal.Mul(c.Value).Div(hundred).Round(2)
		if c.MaxDiscount.Valid && discount.GreaterThan(c.MaxDiscount.Decimal) {
			discount = c.MaxDiscount.Decimal
		}
		return discount
	case entity.DiscountFixed:
		return c.Value
	}
	return decimal.Zero
}
