package store

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a store does not exist.
var ErrNotFound = errors.New("store not found")

// Store is a selling vendor. UserID is the owning seller.
type Store struct {
	ID     string
	UserID string
	Name   string
	Active bool
}

// Repository reads stores.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Store, error)
}
