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

const orderStreamType = "order"

const orderColumns = `id, user_id, status, payment_method, payment_status, payment_reference, coupon_code,
	items_total, shipping_cost, tax_rate, tax, discount, total_amount, shipping_address,
	cancellation_reason, cancelled_at, return_reason, returned_at, version, created_at, updated_at`

const itemColumns = `id, product_id, vendor_id, name, unit_price, quantity, image_url, variant, status,
	tracking_number, status_changed_at, shipped_at, delivered_at, cancelled_at, returned_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository backed by SQL.
func NewOrderRepository(db *sql.DB) repository.OrderRepository {
	return &orderRepository{db: db}
}

// Create inserts a newly placed order. The idempotency key, the coupon
// redemption, the rows and the OrderPlaced event commit together or not at all.
func (r *orderRepository) Create(ctx context.Context, order *entity.OrderAggregate, opts repository.CreateOptions) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if opts.IdempotencyKey != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO idempotency_keys (user_id, idempotency_key, order_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, idempotency_key) DO NOTHING`,
			order.UserID, opts.IdempotencyKey, order.ID, order.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record idempotency key: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to read idempotency key result: %w", err)
		} else if n == 0 {
			return fmt.Errorf("key %s: %w", opts.IdempotencyKey, entity.ErrDuplicateIdempotencyKey)
		}
	}

	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO NOTHING`,
		order.ID, order.UserID, string(order.Status), order.PaymentMethod, string(order.PaymentStatus),
		order.PaymentReference, order.CouponCode,
		order.Pricing.ItemsTotal, order.Pricing.ShippingCost, order.Pricing.TaxRate, order.Pricing.Tax,
		order.Pricing.Discount, order.Pricing.TotalAmount, string(address),
		order.CancellationReason, order.CancelledAt, order.ReturnReason, order.ReturnedAt,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read order insert result: %w", err)
	} else if n == 0 {
		return fmt.Errorf("order %s: %w", order.ID, entity.ErrDuplicateOrderID)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, `+itemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			order.ID, i,
			item.ID, item.ProductID, item.VendorID, item.Name, item.UnitPrice, item.Quantity,
			item.ImageURL, item.Variant, string(item.Status), item.TrackingNumber, item.StatusChangedAt,
			item.ShippedAt, item.DeliveredAt, item.CancelledAt, item.ReturnedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if opts.Redemption != nil {
		if err := redeemCoupon(ctx, tx, *opts.Redemption); err != nil {
			return err
		}
	}

	if err := appendEvents(ctx, tx, order.ID, orderStreamType, order.PersistedVersion(), order.Changes()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	order.ClearChanges()
	return nil
}

// Update writes the aggregate's pending changes. The row is matched on its
// persisted version; a concurrent writer makes this fail with
// ErrConcurrentModification.
func (r *orderRepository) Update(ctx context.Context, order *entity.OrderAggregate) error {
	changes := order.Changes()
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, payment_status = $2, payment_reference = $3,
			cancellation_reason = $4, cancelled_at = $5, return_reason = $6, returned_at = $7,
			version = $8, updated_at = $9
		WHERE id = $10 AND version = $11`,
		string(order.Status), string(order.PaymentStatus), order.PaymentReference,
		order.CancellationReason, order.CancelledAt, order.ReturnReason, order.ReturnedAt,
		order.Version, order.UpdatedAt,
		order.ID, order.PersistedVersion(),
	)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read order update result: %w", err)
	} else if n == 0 {
		return fmt.Errorf("order %s: %w", order.ID, entity.ErrConcurrentModification)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			UPDATE order_items SET
				status = $1, tracking_number = $2, status_changed_at = $3,
				shipped_at = $4, delivered_at = $5, cancelled_at = $6, returned_at = $7
			WHERE id = $8 AND order_id = $9`,
			string(item.Status), item.TrackingNumber, item.StatusChangedAt,
			item.ShippedAt, item.DeliveredAt, item.CancelledAt, item.ReturnedAt,
			item.ID, order.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update order item %s: %w", item.ID, err)
		}
	}

	if err := appendEvents(ctx, tx, order.ID, orderStreamType, order.PersistedVersion(), changes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	order.ClearChanges()
	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (*entity.OrderAggregate, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, entity.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", id, err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return nil, err
	}
	return &entity.OrderAggregate{Order: *order}, nil
}

func (r *orderRepository) FindIDByIdempotencyKey(ctx context.Context, userID, key string) (string, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx,
		"SELECT order_id FROM idempotency_keys WHERE user_id = $1 AND idempotency_key = $2",
		userID, key,
	).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", entity.ErrOrderNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query idempotency key: %w", err)
	}
	return orderID, nil
}

func (r *orderRepository) FindByUser(ctx context.Context, userID string, limit int) ([]entity.Order, error) {
	return r.findMany(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		userID, limit,
	)
}

func (r *orderRepository) FindByVendor(ctx context.Context, vendorID string, limit int) ([]entity.Order, error) {
	return r.findMany(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id IN (SELECT order_id FROM order_items WHERE vendor_id = $1) ORDER BY created_at DESC, id DESC LIMIT $2",
		vendorID, limit,
	)
}

func (r *orderRepository) findMany(ctx context.Context, query string, args ...any) ([]entity.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var orders []entity.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}

	// Fetch items for each order
	for i := range orders {
		if orders[i].Items, err = r.loadItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]entity.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM order_items WHERE order_id = $1 ORDER BY line_no",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []entity.OrderItem
	for rows.Next() {
		var item entity.OrderItem
		err := rows.Scan(&item.ID, &item.ProductID, &item.VendorID, &item.Name, &item.UnitPrice, &item.Quantity,
			&item.ImageURL, &item.Variant, &item.Status, &item.TrackingNumber, &item.StatusChangedAt,
			&item.ShippedAt, &item.DeliveredAt, &item.CancelledAt, &item.ReturnedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order item rows: %w", err)
	}
	return items, nil
}

func scanOrder(row rowScanner) (*entity.Order, error) {
	var (
		o       entity.Order
		address string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentMethod, &o.PaymentStatus, &o.PaymentReference, &o.CouponCode,
		&o.Pricing.ItemsTotal, &o.Pricing.ShippingCost, &o.Pricing.TaxRate, &o.Pricing.Tax, &o.Pricing.Discount,
		&o.Pricing.TotalAmount, &address,
		&o.CancellationReason, &o.CancelledAt, &o.ReturnReason, &o.ReturnedAt, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(address), &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address of order %s: %w", o.ID, err)
	}
	return &o, nil
}
