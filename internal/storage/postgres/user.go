package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/user"
)

const ensureUserSQL = `INSERT INTO users (id, email, name) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET
		email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
		name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
		updated_at = now()`

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Ensure creates the user or refreshes non-empty profile fields.
func (r *UserRepository) Ensure(ctx context.Context, u user.User) error {
	if _, err := r.pool.Exec(ctx, ensureUserSQL, u.ID, u.Email, u.Name); err != nil {
		return fmt.Errorf("ensuring user %q: %w", u.ID, err)
	}
	return nil
}
