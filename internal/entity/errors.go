package entity

import (
	"errors"
	"fmt"
)

// Error categories. Every domain error below wraps exactly one of them so
// callers can branch with errors.Is(err, ErrConflict) and friends.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAuthorization = errors.New("not authorized")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrEmptyCart              = newError(ErrValidation, "cart has no items")
	ErrInvalidQuantity        = newError(ErrValidation, "quantity must be greater than 0")
	ErrProductIDRequired      = newError(ErrValidation, "product_id is required")
	ErrUserIDRequired         = newError(ErrValidation, "user_id is required")
	ErrIdempotencyKeyRequired = newError(ErrValidation, "idempotency key is required")
	ErrPaymentMethodRequired  = newError(ErrValidation, "payment_method is required")
	ErrInvalidAddress         = newError(ErrValidation, "shipping address is incomplete")
	ErrInvalidStatus          = newError(ErrValidation, "unknown fulfillment status")
	ErrTrackingNumberRequired = newError(ErrValidation, "tracking number is required to ship an item")
	ErrCouponCodeRequired     = newError(ErrValidation, "coupon code is required")
	ErrCouponExpired          = newError(ErrValidation, "coupon is expired")
	ErrCouponInactive         = newError(ErrValidation, "coupon is inactive")
	ErrCouponBelowMinPurchase = newError(ErrValidation, "cart total is below the coupon minimum purchase")

	ErrProductNotFound   = newError(ErrNotFound, "product not found")
	ErrVariantNotFound   = newError(ErrNotFound, "product variant not found")
	ErrOrderNotFound     = newError(ErrNotFound, "order not found")
	ErrOrderItemNotFound = newError(ErrNotFound, "order item not found")
	ErrCartItemNotFound  = newError(ErrNotFound, "cart item not found")
	ErrCouponNotFound    = newError(ErrNotFound, "coupon not found")

	ErrInsufficientStock           = newError(ErrConflict, "insufficient stock")
	ErrProductUnavailable          = newError(ErrConflict, "product is not available for purchase")
	ErrCouponGlobalLimitReached    = newError(ErrConflict, "coupon usage limit reached")
	ErrCouponUserLimitReached      = newError(ErrConflict, "coupon usage limit reached for user")
	ErrInvalidTransition           = newError(ErrConflict, "illegal status transition")
	ErrInvalidStateForCancellation = newError(ErrConflict, "order can no longer be cancelled")
	ErrInvalidStateForReturn       = newError(ErrConflict, "order is not eligible for return")
	ErrPaymentAlreadySettled       = newError(ErrConflict, "payment is already settled")
	ErrConcurrentModification      = newError(ErrConflict, "order was modified concurrently")
	ErrDuplicateOrderID            = newError(ErrConflict, "order id already exists")
	ErrDuplicateIdempotencyKey     = newError(ErrConflict, "idempotency key already used")

	ErrNotOrderOwner = newError(ErrAuthorization, "requester does not own the order")
	ErrNotItemVendor = newError(ErrAuthorization, "vendor does not own the order item")
)

// InsufficientStockError names the product whose reservation failed.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (requested: %d)", e.ProductName, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
