package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
)

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository creates a new CouponRepository backed by SQL.
func NewCouponRepository(db *sql.DB) repository.CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) FindByCode(ctx context.Context, code string) (*entity.Coupon, error) {
	code = entity.NormalizeCouponCode(code)

	var (
		c          entity.Coupon
		usageLimit sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT code, discount_type, discount_value, max_discount, min_purchase,
			valid_from, valid_until, usage_limit, used_count, usage_per_user, active
		FROM coupons WHERE code = $1`, code,
	).Scan(&c.Code, &c.Type, &c.Value, &c.MaxDiscount, &c.MinPurchase,
		&c.ValidFrom, &c.ValidUntil, &usageLimit, &c.UsedCount, &c.UsagePerUser, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("coupon %s: %w", code, entity.ErrCouponNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query coupon %s: %w", code, err)
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int64)
		c.UsageLimit = &limit
	}

	rows, err := r.db.QueryContext(ctx, "SELECT user_id, used FROM coupon_usages WHERE code = $1", code)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage of coupon %s: %w", code, err)
	}
	defer rows.Close()

	c.UsedBy = make(map[string]int)
	for rows.Next() {
		var userID string
		var used int
		if err := rows.Scan(&userID, &used); err != nil {
			return nil, fmt.Errorf("failed to scan coupon usage: %w", err)
		}
		c.UsedBy[userID] = used
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating coupon usage rows: %w", err)
	}
	return &c, nil
}

func (r *couponRepository) Save(ctx context.Context, c *entity.Coupon) error {
	c.Code = entity.NormalizeCouponCode(c.Code)
	if c.Code == "" {
		return entity.ErrCouponCodeRequired
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (code, discount_type, discount_value, max_discount, min_purchase,
			valid_from, valid_until, usage_limit, used_count, usage_per_user, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = excluded.discount_type,
			discount_value = excluded.discount_value,
			max_discount = excluded.max_discount,
			min_purchase = excluded.min_purchase,
			valid_from = excluded.valid_from,
			valid_until = excluded.valid_until,
			usage_limit = excluded.usage_limit,
			used_count = excluded.used_count,
			usage_per_user = excluded.usage_per_user,
			active = excluded.active`,
		c.Code, string(c.Type), c.Value, c.MaxDiscount, c.MinPurchase,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, c.UsedCount, c.UsagePerUser, c.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save coupon %s: %w", c.Code, err)
	}
	return nil
}

// redeemCoupon consumes one use of a coupon inside tx. Both counters are
// guarded by their limits in the statement itself, so concurrent checkouts
// cannot overshoot them.
func redeemCoupon(ctx context.Context, tx *sql.Tx, redemption repository.CouponRedemption) error {
	code := entity.NormalizeCouponCode(redemption.Code)

	res, err := tx.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND active AND (usage_limit IS NULL OR used_count < usage_limit)`,
		code,
	)
	if err != nil {
		return fmt.Errorf("failed to consume coupon %s: %w", code, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read coupon update result: %w", err)
	} else if n == 0 {
		return fmt.Errorf("coupon %s: %w", code, entity.ErrCouponGlobalLimitReached)
	}

	if redemption.UsagePerUser <= 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO coupon_usages (code, user_id, used) VALUES ($1, $2, 1)
			ON CONFLICT (code, user_id) DO UPDATE SET used = coupon_usages.used + 1`,
			code, redemption.UserID,
		)
		if err != nil {
			return fmt.Errorf("failed to record coupon usage: %w", err)
		}
		return nil
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO coupon_usages (code, user_id, used) VALUES ($1, $2, 1)
		ON CONFLICT (code, user_id) DO UPDATE SET used = coupon_usages.used + 1
		WHERE coupon_usages.used < $3`,
		code, redemption.UserID, redemption.UsagePerUser,
	)
	if err != nil {
		return fmt.Errorf("failed to record coupon usage: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read coupon usage result: %w", err)
	} else if n == 0 {
		return fmt.Errorf("coupon %s: %w", code, entity.ErrCouponUserLimitReached)
	}
	return nil
}
