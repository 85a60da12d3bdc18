package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, description, discount, for_new_user, for_member
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount, for_new_user, for_member)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount = EXCLUDED.discount,
			for_new_user = EXCLUDED.for_new_user,
			for_member = EXCLUDED.for_member`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrCouponNotFound when no coupon matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Upsert stores a coupon under its upper-cased code.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	code := strings.ToUpper(strings.TrimSpace(c.Code))
	_, err := r.pool.Exec(ctx, upsertCouponSQL, code, c.Description, c.Discount, c.ForNewUser, c.ForMember)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.Code, &c.Description, &c.Discount, &c.ForNewUser, &c.ForMember)
	return c, err
}
