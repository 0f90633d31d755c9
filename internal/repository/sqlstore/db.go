// Package sqlstore implements the repositories on database/sql. The same
// statements run on PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite);
// only column types differ between the two schemas.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	money     string
	rate      string
	timestamp string
	blob      string
}

var dialects = map[string]dialect{
	DriverPostgres: {money: "NUMERIC(14,2)", rate: "NUMERIC(7,4)", timestamp: "TIMESTAMPTZ", blob: "BYTEA"},
	DriverSQLite:   {money: "TEXT", rate: "TEXT", timestamp: "TIMESTAMP", blob: "BLOB"},
}

// InitDB opens the database for driver, verifies the connection and
// creates the schema if it does not exist yet.
func InitDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; an in-memory database also lives
		// and dies with its connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateDB(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Database connected and migrated", "driver", driver)
	return db, nil
}

func migrateDB(ctx context.Context, db *sql.DB, d dialect) error {
	schema := strings.NewReplacer(
		"{{money}}", d.money,
		"{{rate}}", d.rate,
		"{{timestamp}}", d.timestamp,
		"{{blob}}", d.blob,
	).Replace(schemaTemplate)

	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaTemplate = `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		vendor_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price {{money}} NOT NULL DEFAULT 0,
		image_url TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS product_variants (
		product_id TEXT NOT NULL REFERENCES products(id),
		selector TEXT NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		PRIMARY KEY (product_id, selector)
	);

	CREATE TABLE IF NOT EXISTS coupons (
		code TEXT PRIMARY KEY,
		discount_type TEXT NOT NULL,
		discount_value {{money}} NOT NULL,
		max_discount {{money}},
		min_purchase {{money}} NOT NULL DEFAULT 0,
		valid_from {{timestamp}} NOT NULL,
		valid_until {{timestamp}} NOT NULL,
		usage_limit INTEGER,
		used_count INTEGER NOT NULL DEFAULT 0,
		usage_per_user INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS coupon_usages (
		code TEXT NOT NULL REFERENCES coupons(code),
		user_id TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (code, user_id)
	);

	CREATE TABLE IF NOT EXISTS carts (
		user_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at {{timestamp}} NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		payment_reference TEXT NOT NULL DEFAULT '',
		coupon_code TEXT NOT NULL DEFAULT '',
		items_total {{money}} NOT NULL,
		shipping_cost {{money}} NOT NULL,
		tax_rate {{rate}} NOT NULL,
		tax {{money}} NOT NULL,
		discount {{money}} NOT NULL,
		total_amount {{money}} NOT NULL,
		shipping_address TEXT NOT NULL,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		cancelled_at {{timestamp}},
		return_reason TEXT NOT NULL DEFAULT '',
		returned_at {{timestamp}},
		version INTEGER NOT NULL,
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at);

	CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		name TEXT NOT NULL,
		unit_price {{money}} NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		image_url TEXT NOT NULL DEFAULT '',
		variant TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		tracking_number TEXT NOT NULL DEFAULT '',
		status_changed_at {{timestamp}} NOT NULL,
		shipped_at {{timestamp}},
		delivered_at {{timestamp}},
		cancelled_at {{timestamp}},
		returned_at {{timestamp}}
	);

	CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id, line_no);
	CREATE INDEX IF NOT EXISTS idx_order_items_vendor ON order_items (vendor_id);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		user_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		order_id TEXT NOT NULL,
		created_at {{timestamp}} NOT NULL,
		PRIMARY KEY (user_id, idempotency_key)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL,
		stream_type TEXT NOT NULL,
		version INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		payload {{blob}} NOT NULL,
		created_at {{timestamp}} NOT NULL,
		UNIQUE (stream_id, version)
	);
`

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure on either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
