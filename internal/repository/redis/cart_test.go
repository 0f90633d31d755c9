package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	carts := NewCartRepository(client, time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	cart, err := carts.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, "u1", cart.ID)

	require.NoError(t, cart.AddItem("p1", "", 3, decimal.RequireFromString("9.50"), now))
	require.NoError(t, carts.Save(ctx, cart))
	assert.True(t, mr.Exists("cart:u1"))
	assert.Equal(t, time.Hour, mr.TTL("cart:u1"))

	loaded, err := carts.Load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, 3, loaded.Items[0].Quantity)
	assert.Equal(t, 1, loaded.Version)
	assert.True(t, loaded.SnapshotTotal().Equal(decimal.RequireFromString("28.5")))

	require.NoError(t, carts.Delete(ctx, "u1"))
	assert.False(t, mr.Exists("cart:u1"))
}

func TestCartRepository_CorruptPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	require.NoError(t, mr.Set("cart:u1", "{not json"))
	_, err := NewCartRepository(client, 0).Load(context.Background(), "u1")
	assert.Error(t, err)
}
