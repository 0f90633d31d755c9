// Package redis keeps carts in Redis, one JSON document per user.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "cart:"

type cartRepository struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCartRepository creates a CartRepository on client. Idle carts expire
// after ttl; zero keeps them forever.
func NewCartRepository(client *goredis.Client, ttl time.Duration) repository.CartRepository {
	return &cartRepository{client: client, ttl: ttl}
}

func cartKey(userID string) string {
	return keyPrefix + userID
}

func (r *cartRepository) Load(ctx context.Context, userID string) (*entity.CartAggregate, error) {
	payload, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return entity.NewCartAggregate(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart %s: %w", userID, err)
	}

	cart := entity.NewCartAggregate(userID)
	if err := json.Unmarshal(payload, cart); err != nil {
		return nil, fmt.Errorf("failed to decode cart %s: %w", userID, err)
	}
	return cart, nil
}

func (r *cartRepository) Save(ctx context.Context, cart *entity.CartAggregate) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("failed to encode cart %s: %w", cart.ID, err)
	}
	if err := r.client.Set(ctx, cartKey(cart.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cart %s: %w", cart.ID, err)
	}
	return nil
}

func (r *cartRepository) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cart %s: %w", userID, err)
	}
	return nil
}
