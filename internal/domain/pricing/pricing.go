// Package pricing turns resolved cart lines into subtotal, GST, shipping,
// discount and total figures, split per store.
//
// Everything here is pure: no I/O, no clocks, no randomness. Store subtotals
// and GST amounts are exact sums of their lines; only the per-store Total is
// rounded to cents, so the sum of store totals may differ from the grand
// total by rounding residue.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

var hundred = decimal.NewFromInt(100)

// Line is a cart line whose price and GST have been resolved server-side.
type Line struct {
	ProductID string
	StoreID   string
	UnitPrice decimal.Decimal
	GST       decimal.Decimal // percent
	Quantity  int
}

// LineQuote is a priced Line.
type LineQuote struct {
	Line
	Base      decimal.Decimal
	GSTAmount decimal.Decimal
}

// StoreQuote holds the share of a checkout attributed to a single store.
type StoreQuote struct {
	StoreID   string
	Lines     []LineQuote
	Subtotal  decimal.Decimal
	GSTAmount decimal.Decimal
	Shipping  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal // rounded to 2 places
}

// Quote is the full pricing of one checkout attempt. Stores are ordered by
// the first appearance of each store in the cart.
type Quote struct {
	Subtotal  decimal.Decimal
	GSTAmount decimal.Decimal
	Shipping  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
	Stores    []StoreQuote
}

// Calculate prices lines. Shipping is charged once per checkout, to the first
// store, and waived for members. A coupon discounts the subtotal only and is
// allocated to stores in proportion to their subtotal.
func Calculate(lines []Line, c *coupon.Coupon, isMember bool, flatShipping decimal.Decimal) Quote {
	var (
		q       Quote
		byStore = make(map[string]int)
	)

	for _, l := range lines {
		base := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		gst := base.Mul(l.GST).Div(hundred)

		q.Subtotal = q.Subtotal.Add(base)
		q.GSTAmount = q.GSTAmount.Add(gst)

		idx, ok := byStore[l.StoreID]
		if !ok {
			idx = len(q.Stores)
			byStore[l.StoreID] = idx
			q.Stores = append(q.Stores, StoreQuote{StoreID: l.StoreID})
		}
		s := &q.Stores[idx]
		s.Lines = append(s.Lines, LineQuote{Line: l, Base: base, GSTAmount: gst})
		s.Subtotal = s.Subtotal.Add(base)
		s.GSTAmount = s.GSTAmount.Add(gst)
	}

	if !isMember {
		q.Shipping = flatShipping
	}
	if c != nil {
		q.Discount = q.Subtotal.Mul(c.Discount).Div(hundred)
	}
	q.Total = q.Subtotal.Add(q.GSTAmount).Add(q.Shipping).Sub(q.Discount)

	for i := range q.Stores {
		s := &q.Stores[i]
		if c != nil && !q.Subtotal.IsZero() {
			s.Discount = s.Subtotal.Mul(q.Discount).Div(q.Subtotal)
		}
		if i == 0 {
			s.Shipping = q.Shipping
		}
		s.Total = s.Subtotal.Add(s.GSTAmount).Add(s.Shipping).Sub(s.Discount).Round(2)
	}

	return q
}
