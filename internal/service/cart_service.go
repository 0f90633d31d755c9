package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/coupon"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
)

// CartService manages shopping carts. Carts are last-write-wins; checkout
// re-reads every product, so a stale cart can never under-price an order.
type CartService struct {
	carts        repository.CartRepository
	products     repository.ProductRepository
	coupons      *coupon.Validator
	storeTimeout time.Duration
	now          func() time.Time
}

func NewCartService(
	carts repository.CartRepository,
	products repository.ProductRepository,
	coupons *coupon.Validator,
	storeTimeout time.Duration,
) *CartService {
	return &CartService{
		carts:        carts,
		products:     products,
		coupons:      coupons,
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// GetCart returns the user's cart, empty if none was stored yet.
func (s *CartService) GetCart(ctx context.Context, userID string) (*entity.CartAggregate, error) {
	if userID == "" {
		return nil, entity.ErrUserIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	return s.carts.Load(ctx, userID)
}

// AddItem puts quantity units of a product (variant) into the cart at the current catalog price.
func (s *CartService) AddItem(ctx context.Context, userID, productID, variant string, quantity int) (*entity.CartAggregate, error) {
	slog.Info("Service: Adding item to cart", "user_id", userID, "product_id", productID, "variant", variant, "quantity", quantity)

	if userID == "" {
		return nil, entity.ErrUserIDRequired
	}
	if quantity <= 0 {
		return nil, entity.ErrInvalidQuantity
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Purchasable() {
		return nil, fmt.Errorf("product %s: %w", product.Name, entity.ErrProductUnavailable)
	}
	if variant != "" {
		if _, err := s.products.FindVariant(ctx, productID, variant); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, userID, func(cart *entity.CartAggregate, now time.Time) error {
		return cart.AddItem(productID, variant, quantity, product.Price, now)
	})
}

// UpdateItemQuantity replaces the quantity of a cart line.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, productID, variant string, quantity int) (*entity.CartAggregate, error) {
	if userID == "" {
		return nil, entity.ErrUserIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	return s.mutate(ctx, userID, func(cart *entity.CartAggregate, now time.Time) error {
		return cart.UpdateQuantity(productID, variant, quantity, now)
	})
}

// RemoveItem deletes a cart line.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID, variant string) (*entity.CartAggregate, error) {
	if userID == "" {
		return nil, entity.ErrUserIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	return s.mutate(ctx, userID, func(cart *entity.CartAggregate, now time.Time) error {
		return cart.RemoveItem(productID, variant, now)
	})
}

// ClearCart drops the cart and its coupon.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	if userID == "" {
		return entity.ErrUserIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	return s.carts.Delete(ctx, userID)
}

// ApplyCoupon validates code against the cart and attaches it with its
// previewed discount. Usage is not consumed until an order is placed.
func (s *CartService) ApplyCoupon(ctx context.Context, userID, code string) (*entity.CartAggregate, error) {
	slog.Info("Service: Applying coupon", "user_id", userID, "code", code)

	if userID == "" {
		return nil, entity.ErrUserIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	cart, err := s.carts.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, entity.ErrEmptyCart
	}

	now := s.now()
	res, err := s.coupons.Validate(ctx, code, userID, cart.SnapshotTotal(), now)
	if err != nil {
		return nil, err
	}

	cart.ApplyCoupon(res.Code, res.Discount, now)
	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveCoupon detaches the cart's coupon.
func (s *CartService) RemoveCoupon(ctx context.Context, userID string) (*entity.CartAggregate, error) {
	if userID == "" {
		return nil, entity.ErrUserIDRequired
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	return s.mutate(ctx, userID, func(cart *entity.CartAggregate, now time.Time) error {
		cart.RemoveCoupon(now)
		return nil
	})
}

// mutate loads the cart, applies fn, refreshes the attached coupon and saves.
func (s *CartService) mutate(ctx context.Context, userID string, fn func(cart *entity.CartAggregate, now time.Time) error) (*entity.CartAggregate, error) {
	cart, err := s.carts.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := fn(cart, now); err != nil {
		return nil, err
	}
	if err := s.refreshCoupon(ctx, cart, now); err != nil {
		return nil, err
	}

	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// refreshCoupon recomputes the attached coupon's discount for the current
// cart. A coupon that no longer applies is detached.
func (s *CartService) refreshCoupon(ctx context.Context, cart *entity.CartAggregate, now time.Time) error {
	if cart.Coupon == nil {
		return nil
	}
	if cart.IsEmpty() {
		cart.RemoveCoupon(now)
		return nil
	}

	res, err := s.coupons.Validate(ctx, cart.Coupon.Code, cart.ID, cart.SnapshotTotal(), now)
	switch {
	case err == nil:
		cart.ApplyCoupon(res.Code, res.Discount, now)
	case errors.Is(err, entity.ErrValidation), errors.Is(err, entity.ErrConflict), errors.Is(err, entity.ErrNotFound):
		slog.Info("Service: Detaching coupon that no longer applies", "user_id", cart.ID, "code", cart.Coupon.Code, "reason", err)
		cart.RemoveCoupon(now)
	default:
		return err
	}
	return nil
}
