package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/pricing"
	"github.com/xenking/bazaar/internal/domain/product"
)

// ProductNotFoundError indicates a cart line references a missing product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// BuildRequest holds everything needed to split a cart into store orders.
type BuildRequest struct {
	Lines         []CartLine
	Coupon        *coupon.Coupon
	IsMember      bool
	AddressID     string
	UserID        string
	PaymentMethod PaymentMethod
}

// Plan is the set of orders produced for one checkout attempt. Nothing in a
// Plan has been persisted yet.
type Plan struct {
	Orders          []*Order
	Quote           pricing.Quote
	OrderIDs        []string
	OrderIDsByStore map[string]string
}

// Builder fans a multi-vendor cart out into one order per store.
type Builder struct {
	products     product.Repository
	flatShipping decimal.Decimal
	newID        func() string
	now          func() time.Time
}

// NewBuilder creates a Builder that resolves products from the catalog and
// charges flatShipping once per non-member checkout.
func NewBuilder(products product.Repository, flatShipping decimal.Decimal) *Builder {
	return &Builder{
		products:     products,
		flatShipping: flatShipping,
		newID:        func() string { return uuid.New().String() },
		now:          time.Now,
	}
}

// Build resolves every line against the catalog and prices the cart. Any
// missing product aborts the whole build.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*Plan, error) {
	lines, err := b.resolve(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	q := pricing.Calculate(lines, req.Coupon, req.IsMember, b.flatShipping)

	plan := &Plan{
		Quote:           q,
		Orders:          make([]*Order, 0, len(q.Stores)),
		OrderIDs:        make([]string, 0, len(q.Stores)),
		OrderIDsByStore: make(map[string]string, len(q.Stores)),
	}
	createdAt := b.now().UTC()
	for _, s := range q.Stores {
		o := &Order{
			ID:             b.newID(),
			UserID:         req.UserID,
			StoreID:        s.StoreID,
			AddressID:      req.AddressID,
			Subtotal:       s.Subtotal.Round(2),
			GSTAmount:      s.GSTAmount.Round(2),
			ShippingCharge: s.Shipping,
			Discount:       s.Discount.Round(2),
			Total:          s.Total,
			PaymentMethod:  req.PaymentMethod,
			IsPaid:         false,
			IsCouponUsed:   req.Coupon != nil,
			Status:         StatusPlaced,
			CreatedAt:      createdAt,
		}
		if req.Coupon != nil {
			snapshot := *req.Coupon
			o.Coupon = &snapshot
		}
		for _, l := range s.Lines {
			o.Items = append(o.Items, Item{
				OrderID:    o.ID,
				ProductID:  l.ProductID,
				Quantity:   l.Quantity,
				Price:      l.UnitPrice,
				GSTPercent: l.GST,
				GSTAmount:  l.GSTAmount.Round(2),
			})
		}
		plan.Orders = append(plan.Orders, o)
		plan.OrderIDs = append(plan.OrderIDs, o.ID)
		plan.OrderIDsByStore[o.StoreID] = o.ID
	}

	return plan, nil
}

// resolve fetches all referenced products in a single batch and turns cart
// lines into priced lines.
func (b *Builder) resolve(ctx context.Context, cart []CartLine) ([]pricing.Line, error) {
	ids := make([]string, 0, len(cart))
	seen := make(map[string]struct{}, len(cart))
	for _, l := range cart {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}

	fetched, err := b.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	lines := make([]pricing.Line, 0, len(cart))
	for _, l := range cart {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		price, err := p.PriceFor(l.Variant, l.Size)
		if err != nil {
			return nil, err
		}
		lines = append(lines, pricing.Line{
			ProductID: p.ID,
			StoreID:   p.StoreID,
			UnitPrice: price,
			GST:       p.GST,
			Quantity:  l.Quantity,
		})
	}
	return lines, nil
}
