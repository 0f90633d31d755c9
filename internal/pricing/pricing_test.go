package pricing

import (
	"testing"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPrice_WorkedExample(t *testing.T) {
	engine := NewEngine(dec("10"))

	got := engine.Price([]Line{{UnitPrice: dec("100"), Quantity: 2}}, dec("15"), FlatRate{Fee: dec("50")})

	assert.True(t, got.ItemsTotal.Equal(dec("200")), got.ItemsTotal.String())
	assert.True(t, got.ShippingCost.Equal(dec("50")))
	assert.True(t, got.Tax.Equal(dec("20")), got.Tax.String())
	assert.True(t, got.Discount.Equal(dec("15")))
	assert.True(t, got.TotalAmount.Equal(dec("255")), got.TotalAmount.String())
}

func TestPrice_FloorsAtZero(t *testing.T) {
	engine := NewEngine(dec("0"))
	got := engine.Price([]Line{{UnitPrice: dec("5"), Quantity: 1}}, dec("50"), FlatRate{Fee: dec("2")})
	assert.True(t, got.TotalAmount.IsZero())
	assert.True(t, got.Discount.Equal(dec("50")), "the discount is recorded as granted")
}

func TestPrice_RoundsTaxToCents(t *testing.T) {
	engine := NewEngine(dec("7.25"))
	got := engine.Price([]Line{{UnitPrice: dec("19.99"), Quantity: 3}}, decimal.Zero, nil)
	assert.True(t, got.ItemsTotal.Equal(dec("59.97")))
	assert.True(t, got.Tax.Equal(dec("4.35")), got.Tax.String())
	assert.True(t, got.TotalAmount.Equal(dec("64.32")), got.TotalAmount.String())
}

func TestFreeOver(t *testing.T) {
	calc := FreeOver{Threshold: dec("100"), Fee: dec("9.99")}
	assert.True(t, calc.ShippingCost(dec("99.99"), nil).Equal(dec("9.99")))
	assert.True(t, calc.ShippingCost(dec("100"), nil).IsZero())
}

func TestReplayAndVerify(t *testing.T) {
	engine := NewEngine(dec("10"))
	items := []entity.OrderItem{
		{UnitPrice: dec("100"), Quantity: 2},
		{UnitPrice: dec("12.50"), Quantity: 1},
	}
	order := &entity.Order{
		ID:      "ORD-1",
		Items:   items,
		Pricing: engine.Price(LinesFromItems(items), dec("15"), FlatRate{Fee: dec("50")}),
	}

	require.NoError(t, Verify(order))
	assert.True(t, Replay(order).Equal(order.Pricing))

	order.Pricing.TotalAmount = order.Pricing.TotalAmount.Add(dec("0.01"))
	assert.ErrorIs(t, Verify(order), ErrPricingMismatch)
}
