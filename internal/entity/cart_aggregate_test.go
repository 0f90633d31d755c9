package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCart_AddMergesSameVariant(t *testing.T) {
	now := time.Now()
	cart := NewCartAggregate("user-1")

	require.NoError(t, cart.AddItem("p1", "L", 1, decimal.NewFromInt(100), now))
	require.NoError(t, cart.AddItem("p1", "L", 2, decimal.NewFromInt(90), now))
	require.NoError(t, cart.AddItem("p1", "M", 1, decimal.NewFromInt(90), now))

	require.Len(t, cart.Items, 2)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].UnitPriceSnapshot.Equal(decimal.NewFromInt(90)))
	assert.True(t, cart.SnapshotTotal().Equal(decimal.NewFromInt(360)))
	assert.Equal(t, 3, cart.Version)
}

func TestCart_RejectsBadQuantity(t *testing.T) {
	cart := NewCartAggregate("user-1")
	assert.ErrorIs(t, cart.AddItem("p1", "", 0, decimal.Zero, time.Now()), ErrInvalidQuantity)
	assert.ErrorIs(t, cart.AddItem("", "", 1, decimal.Zero, time.Now()), ErrProductIDRequired)

	require.NoError(t, cart.AddItem("p1", "", 1, decimal.Zero, time.Now()))
	assert.ErrorIs(t, cart.UpdateQuantity("p1", "", -1, time.Now()), ErrInvalidQuantity)
	assert.ErrorIs(t, cart.UpdateQuantity("p2", "", 1, time.Now()), ErrCartItemNotFound)
}

func TestCart_RemoveAndClear(t *testing.T) {
	now := time.Now()
	cart := NewCartAggregate("user-1")
	require.NoError(t, cart.AddItem("p1", "", 1, decimal.NewFromInt(5), now))
	require.NoError(t, cart.AddItem("p2", "", 1, decimal.NewFromInt(5), now))
	cart.ApplyCoupon("SAVE10", decimal.NewFromInt(1), now)

	require.NoError(t, cart.RemoveItem("p1", "", now))
	assert.ErrorIs(t, cart.RemoveItem("p1", "", now), ErrCartItemNotFound)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "p2", cart.Items[0].ProductID)

	cart.Clear(now)
	assert.True(t, cart.IsEmpty())
	assert.Nil(t, cart.Coupon)
}

func TestFulfillmentStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusProcessing))
	assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusProcessing.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusShipped.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusDelivered.CanTransitionTo(StatusReturned))
	assert.False(t, StatusPending.CanTransitionTo(StatusDelivered))

	for _, s := range []FulfillmentStatus{StatusCancelled, StatusReturned} {
		assert.True(t, s.IsTerminal(), s)
	}

	s, err := ParseFulfillmentStatus(" Shipped ")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, s)
	_, err = ParseFulfillmentStatus("lost")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
