package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func intPtr(v int) *int { return &v }

// demoProducts spans two vendors so a single cart exercises multi-vendor fulfillment.
var demoProducts = []entity.Product{
	{ID: "prod-001", VendorID: "vendor-audio", Name: "Wireless Noise-Cancelling Headphones", Description: "Premium over-ear headphones with active noise cancellation and 30-hour battery life.", Price: decimal.RequireFromString("349.99"), ImageURL: "https://images.unsplash.com/photo-1505740420928-5e560c06d30e?w=400", Category: "Electronics", Stock: 50},
	{ID: "prod-002", VendorID: "vendor-audio", Name: "Mechanical Keyboard RGB", Description: "Cherry MX switches with per-key RGB lighting and aluminum frame.", Price: decimal.RequireFromString("179.99"), ImageURL: "https://images.unsplash.com/photo-1618384887929-16ec33fab9ef?w=400", Category: "Electronics", Stock: 120},
	{ID: "prod-003", VendorID: "vendor-audio", Name: "Ultrawide Curved Monitor 34\"", Description: "UWQHD 3440x1440 144Hz IPS panel with USB-C connectivity.", Price: decimal.RequireFromString("699.99"), ImageURL: "https://images.unsplash.com/photo-1527443224154-c4a3942d3acf?w=400", Category: "Electronics", Stock: 30},
	{ID: "prod-004", VendorID: "vendor-home", Name: "Ergonomic Office Chair", Description: "Adjustable lumbar support, breathable mesh, and 4D armrests.", Price: decimal.RequireFromString("549.99"), ImageURL: "https://images.unsplash.com/photo-1592078615290-033ee584e267?w=400", Category: "Furniture", Stock: 25},
	{ID: "prod-005", VendorID: "vendor-home", Name: "Smart LED Desk Lamp", Description: "Adjustable color temperature, brightness levels, and USB charging port.", Price: decimal.RequireFromString("89.99"), ImageURL: "https://images.unsplash.com/photo-1507473885765-e6ed057ab6fe?w=400", Category: "Home", Stock: 200},
	{ID: "prod-006", VendorID: "vendor-home", Name: "Premium Laptop Backpack", Description: "Water-resistant 17\" laptop compartment with anti-theft design.", Price: decimal.RequireFromString("129.99"), ImageURL: "https://images.unsplash.com/photo-1553062407-98eeb64c6a62?w=400", Category: "Accessories", Stock: 80},
}

var demoVariants = []entity.ProductVariant{
	{ProductID: "prod-006", Selector: "black", Stock: 40},
	{ProductID: "prod-006", Selector: "grey", Stock: 40},
}

func demoCoupons(now time.Time) []entity.Coupon {
	from, until := now.AddDate(0, -1, 0), now.AddDate(1, 0, 0)
	return []entity.Coupon{
		{Code: "SAVE10", Type: entity.DiscountPercentage, Value: decimal.NewFromInt(10), MaxDiscount: decimal.NewNullDecimal(decimal.NewFromInt(15)), ValidFrom: from, ValidUntil: until, Active: true},
		{Code: "WELCOME5", Type: entity.DiscountFixed, Value: decimal.NewFromInt(5), ValidFrom: from, ValidUntil: until, UsagePerUser: 1, Active: true},
		{Code: "BIGSPENDER", Type: entity.DiscountPercentage, Value: decimal.NewFromInt(20), MaxDiscount: decimal.NewNullDecimal(decimal.NewFromInt(200)), MinPurchase: decimal.NewFromInt(1000), ValidFrom: from, ValidUntil: until, UsageLimit: intPtr(100), Active: true},
	}
}

// seedDemo loads the demo catalog and coupons. Existing rows are left alone
// so restarts do not reset stock or coupon usage.
func seedDemo(ctx context.Context, products repository.ProductRepository, coupons repository.CouponRepository) error {
	if err := products.Seed(ctx, demoProducts); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, v := range demoVariants {
		g.Go(func() error {
			if _, err := products.FindVariant(ctx, v.ProductID, v.Selector); err == nil {
				return nil
			}
			if err := products.SaveVariant(ctx, &v); err != nil {
				return fmt.Errorf("failed to seed variant %s/%s: %w", v.ProductID, v.Selector, err)
			}
			return nil
		})
	}
	for _, c := range demoCoupons(time.Now().UTC()) {
		g.Go(func() error {
			if _, err := coupons.FindByCode(ctx, c.Code); err == nil {
				return nil
			}
			if err := coupons.Save(ctx, &c); err != nil {
				return fmt.Errorf("failed to seed coupon %s: %w", c.Code, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Seeded demo data", "products", len(demoProducts), "variants", len(demoVariants))
	return nil
}
