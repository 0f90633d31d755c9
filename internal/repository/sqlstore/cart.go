package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a CartRepository that keeps each cart as one JSON row.
func NewCartRepository(db *sql.DB) repository.CartRepository {
	return &cartRepository{db: db}
}

func (r *cartRepository) Load(ctx context.Context, userID string) (*entity.CartAggregate, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, "SELECT payload FROM carts WHERE user_id = $1", userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.NewCartAggregate(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart %s: %w", userID, err)
	}

	cart := entity.NewCartAggregate(userID)
	if err := json.Unmarshal([]byte(payload), cart); err != nil {
		return nil, fmt.Errorf("failed to decode cart %s: %w", userID, err)
	}
	return cart, nil
}

func (r *cartRepository) Save(ctx context.Context, cart *entity.CartAggregate) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("failed to encode cart %s: %w", cart.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, payload, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		cart.ID, string(payload), cart.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save cart %s: %w", cart.ID, err)
	}
	return nil
}

func (r *cartRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM carts WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to delete cart %s: %w", userID, err)
	}
	return nil
}
