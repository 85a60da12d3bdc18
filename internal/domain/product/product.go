package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog view that checkout reads. Price and GST are always
// re-read from storage at checkout time, never taken from the client.
type Product struct {
	ID       string
	StoreID  string
	Name     string
	Price    decimal.Decimal
	GST      decimal.Decimal // percent, 0..100
	Variants []Variant
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
