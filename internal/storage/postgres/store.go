package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/store"
)

const (
	getStoreByIDSQL = `SELECT id, user_id, name, active FROM stores WHERE id = $1`

	upsertStoreSQL = `INSERT INTO stores (id, user_id, name, active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			active = EXCLUDED.active`
)

var _ store.Repository = (*StoreRepository)(nil)

// StoreRepository implements store.Repository backed by PostgreSQL.
type StoreRepository struct {
	pool *pgxpool.Pool
}

// NewStoreRepository returns a StoreRepository that uses the given pool.
func NewStoreRepository(pool *pgxpool.Pool) *StoreRepository {
	return &StoreRepository{pool: pool}
}

// GetByID returns a store or store.ErrNotFound.
func (r *StoreRepository) GetByID(ctx context.Context, id string) (*store.Store, error) {
	rows, err := r.pool.Query(ctx, getStoreByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting store %q: %w", id, err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[store.Store])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("getting store %q: %w", id, err)
	}
	return &s, nil
}

// Upsert creates or replaces a store. The owner must exist.
func (r *StoreRepository) Upsert(ctx context.Context, s *store.Store) error {
	if _, err := r.pool.Exec(ctx, upsertStoreSQL, s.ID, s.UserID, s.Name, s.Active); err != nil {
		return fmt.Errorf("upserting store %q: %w", s.ID, err)
	}
	return nil
}
