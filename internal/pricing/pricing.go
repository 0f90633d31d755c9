// Package pricing computes order totals. Every function is deterministic so
// a stored order snapshot can be replayed for audit.
package pricing

import (
	"errors"
	"fmt"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ErrPricingMismatch is returned by Verify when a replay disagrees with the snapshot.
var ErrPricingMismatch = errors.New("pricing snapshot does not match replay")

// Line is one priced line: the authoritative unit price and quantity.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total returns unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ShippingCalculator computes the shipping fee for a priced basket.
type ShippingCalculator interface {
	ShippingCost(itemsTotal decimal.Decimal, lines []Line) decimal.Decimal
}

// FlatRate charges the same fee for every order.
type FlatRate struct {
	Fee decimal.Decimal
}

func (f FlatRate) ShippingCost(decimal.Decimal, []Line) decimal.Decimal {
	return f.Fee
}

// FreeOver charges Fee unless the items total reaches Threshold.
type FreeOver struct {
	Threshold decimal.Decimal
	Fee       decimal.Decimal
}

func (f FreeOver) ShippingCost(itemsTotal decimal.Decimal, _ []Line) decimal.Decimal {
	if itemsTotal.GreaterThanOrEqual(f.Threshold) {
		return decimal.Zero
	}
	return f.Fee
}

// Engine prices baskets with a fixed tax rate, expressed in percent.
type Engine struct {
	TaxRate decimal.Decimal
}

// NewEngine creates an engine taxing at taxRatePercent.
func NewEngine(taxRatePercent decimal.Decimal) *Engine {
	return &Engine{TaxRate: taxRatePercent}
}

// Price computes the order totals. The total is floored at zero so an
// oversized fixed discount can never produce a negative amount.
func (e *Engine) Price(lines []Line, discount decimal.Decimal, shipping ShippingCalculator) entity.Pricing {
	itemsTotal := decimal.Zero
	for _, l := range lines {
		itemsTotal = itemsTotal.Add(l.Total())
	}

	shippingCost := decimal.Zero
	if shipping != nil {
		shippingCost = shipping.ShippingCost(itemsTotal, lines)
	}

	tax := itemsTotal.Mul(e.TaxRate).Div(hundred).Round(2)

	total := itemsTotal.Add(shippingCost).Add(tax).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return entity.Pricing{
		ItemsTotal:   itemsTotal,
		ShippingCost: shippingCost,
		TaxRate:      e.TaxRate,
		Tax:          tax,
		Discount:     discount,
		TotalAmount:  total,
	}
}

// LinesFromItems builds pricing lines from order items.
func LinesFromItems(items []entity.OrderItem) []Line {
	lines := make([]Line, len(items))
	for i, item := range items {
		lines[i] = Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	return lines
}

// Replay recomputes an order's totals from its stored snapshot: item prices,
// the stored tax rate, shipping cost and discount.
func Replay(order *entity.Order) entity.Pricing {
	engine := NewEngine(order.Pricing.TaxRate)
	return engine.Price(LinesFromItems(order.Items), order.Pricing.Discount, FlatRate{Fee: order.Pricing.ShippingCost})
}

// Verify replays the order and reports any difference from its snapshot.
func Verify(order *entity.Order) error {
	replayed := Replay(order)
	if !replayed.Equal(order.Pricing) {
		return fmt.Errorf("%w: order %s stored total %s, replayed %s",
			ErrPricingMismatch, order.ID, order.Pricing.TotalAmount, replayed.TotalAmount)
	}
	return nil
}
