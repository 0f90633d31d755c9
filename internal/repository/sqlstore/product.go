package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
)

const productColumns = "id, vendor_id, name, description, price, image_url, category, stock, status"

// The status flips with the quantity in the same statement, so readers never
// see stock 0 on an active product.
const (
	reserveProductSQL = `
		UPDATE products
		SET stock = stock - $1,
			status = CASE WHEN stock - $1 = 0 AND status = 'active' THEN 'out_of_stock' ELSE status END
		WHERE id = $2 AND stock >= $1`

	releaseProductSQL = `
		UPDATE products
		SET stock = stock + $1,
			status = CASE WHEN status = 'out_of_stock' THEN 'active' ELSE status END
		WHERE id = $2`

	reserveVariantSQL = `
		UPDATE product_variants SET stock = stock - $1
		WHERE product_id = $2 AND selector = $3 AND stock >= $1`

	releaseVariantSQL = `
		UPDATE product_variants SET stock = stock + $1
		WHERE product_id = $2 AND selector = $3`
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new ProductRepository backed by SQL.
func NewProductRepository(db *sql.DB) repository.ProductRepository {
	return &productRepository{db: db}
}

// NewStockLedger creates a StockLedger over the products and variants tables.
func NewStockLedger(db *sql.DB) repository.StockLedger {
	return &productRepository{db: db}
}

func (r *productRepository) Reserve(ctx context.Context, productID, variant string, quantity int) error {
	if quantity <= 0 {
		return entity.ErrInvalidQuantity
	}

	var (
		res sql.Result
		err error
	)
	if variant == "" {
		res, err = r.db.ExecContext(ctx, reserveProductSQL, quantity, productID)
	} else {
		res, err = r.db.ExecContext(ctx, reserveVariantSQL, quantity, productID, variant)
	}
	if err != nil {
		return fmt.Errorf("failed to reserve stock for %s: %w", productID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reservation result for %s: %w", productID, err)
	}
	if n == 1 {
		return nil
	}
	return r.missedReservation(ctx, productID, variant)
}

// missedReservation tells a missing product apart from a short one after a
// conditional decrement matched no row.
func (r *productRepository) missedReservation(ctx context.Context, productID, variant string) error {
	var one int
	var err error
	if variant == "" {
		err = r.db.QueryRowContext(ctx, "SELECT 1 FROM products WHERE id = $1", productID).Scan(&one)
	} else {
		err = r.db.QueryRowContext(ctx, "SELECT 1 FROM product_variants WHERE product_id = $1 AND selector = $2", productID, variant).Scan(&one)
	}

	switch {
	case errors.Is(err, sql.ErrNoRows) && variant == "":
		return fmt.Errorf("product %s: %w", productID, entity.ErrProductNotFound)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("product %s variant %s: %w", productID, variant, entity.ErrVariantNotFound)
	case err != nil:
		return fmt.Errorf("failed to look up product %s: %w", productID, err)
	}
	return fmt.Errorf("product %s: %w", productID, entity.ErrInsufficientStock)
}

func (r *productRepository) Release(ctx context.Context, productID, variant string, quantity int) error {
	if quantity <= 0 {
		return entity.ErrInvalidQuantity
	}

	var (
		res sql.Result
		err error
	)
	if variant == "" {
		res, err = r.db.ExecContext(ctx, releaseProductSQL, quantity, productID)
	} else {
		res, err = r.db.ExecContext(ctx, releaseVariantSQL, quantity, productID, variant)
	}
	if err != nil {
		return fmt.Errorf("failed to release stock for %s: %w", productID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read release result for %s: %w", productID, err)
	}
	if n == 0 {
		if variant == "" {
			return fmt.Errorf("product %s: %w", productID, entity.ErrProductNotFound)
		}
		return fmt.Errorf("product %s variant %s: %w", productID, variant, entity.ErrVariantNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*entity.Product, error) {
	var p entity.Product
	err := row.Scan(&p.ID, &p.VendorID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.Category, &p.Stock, &p.Status)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepository) FindByID(ctx context.Context, id string) (*entity.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, entity.ErrProductNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product %s: %w", id, err)
	}
	return p, nil
}

func (r *productRepository) FindVariant(ctx context.Context, productID, selector string) (*entity.ProductVariant, error) {
	v := entity.ProductVariant{ProductID: productID, Selector: selector}
	err := r.db.QueryRowContext(ctx,
		"SELECT stock FROM product_variants WHERE product_id = $1 AND selector = $2",
		productID, selector,
	).Scan(&v.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s variant %s: %w", productID, selector, entity.ErrVariantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query variant %s/%s: %w", productID, selector, err)
	}
	return &v, nil
}

func (r *productRepository) FindAll(ctx context.Context) ([]entity.Product, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []entity.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product rows: %w", err)
	}
	return products, nil
}

func (r *productRepository) Save(ctx context.Context, p *entity.Product) error {
	if p.Stock < 0 {
		return entity.ErrInvalidQuantity
	}
	// Sellable products are out_of_stock exactly when stock is 0.
	status := p.Status
	if status == "" || status == entity.ProductActive || status == entity.ProductOutOfStock {
		status = entity.ProductActive
		if p.Stock == 0 {
			status = entity.ProductOutOfStock
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			vendor_id = excluded.vendor_id,
			name = excluded.name,
			description = excluded.description,
			price = excluded.price,
			image_url = excluded.image_url,
			category = excluded.category,
			stock = excluded.stock,
			status = excluded.status`,
		p.ID, p.VendorID, p.Name, p.Description, p.Price, p.ImageURL, p.Category, p.Stock, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to save product %s: %w", p.ID, err)
	}
	p.Status = status
	return nil
}

func (r *productRepository) SaveVariant(ctx context.Context, v *entity.ProductVariant) error {
	if v.Stock < 0 {
		return entity.ErrInvalidQuantity
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO product_variants (product_id, selector, stock) VALUES ($1, $2, $3)
		ON CONFLICT (product_id, selector) DO UPDATE SET stock = excluded.stock`,
		v.ProductID, v.Selector, v.Stock,
	)
	if err != nil {
		return fmt.Errorf("failed to save variant %s/%s: %w", v.ProductID, v.Selector, err)
	}
	return nil
}

func (r *productRepository) Seed(ctx context.Context, products []entity.Product) error {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil // already seeded
	}

	for i := range products {
		if err := r.Save(ctx, &products[i]); err != nil {
			return fmt.Errorf("failed to seed product %s: %w", products[i].ID, err)
		}
	}
	return nil
}
