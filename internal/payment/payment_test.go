package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_Confirm(t *testing.T) {
	p := NewSimulated("card", "cod")
	ctx := context.Background()

	res, err := p.Confirm(ctx, "CARD", decimal.NewFromInt(255))
	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Regexp(t, `^PAY-[0-9A-F-]{13}$`, res.Reference)

	res, err = p.Confirm(ctx, "bitcoin", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.Empty(t, res.Reference)
	assert.Contains(t, res.Reason, "bitcoin")

	_, err = p.Confirm(ctx, "card", decimal.NewFromInt(-1))
	assert.Error(t, err)
}

func TestSimulated_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulated("card").Confirm(ctx, "card", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, context.Canceled)
}
