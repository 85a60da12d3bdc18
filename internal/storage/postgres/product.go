package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, store_id, name, price, gst, variants
		FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (id, store_id, name, price, gst, variants)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			store_id = EXCLUDED.store_id,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			gst = EXCLUDED.gst,
			variants = EXCLUDED.variants`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns products matching any of the given IDs. Missing ids are
// simply absent from the result.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert creates or replaces a catalog product. Variants are validated
// before they are stored.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	for _, v := range p.Variants {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("product %q: %w", p.ID, err)
		}
	}
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.StoreID, p.Name, p.Price, p.GST, product.EncodeVariants(p.Variants),
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		variants []byte
	)
	if err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.Price, &p.GST, &variants); err != nil {
		return p, err
	}
	vs, err := product.ParseVariants(variants)
	if err != nil {
		return p, fmt.Errorf("product %q: %w", p.ID, err)
	}
	p.Variants = vs
	return p, nil
}
