package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrCouponNotFound is returned when no active coupon matches the code.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponNewUsersOnly is returned when a new-user coupon is redeemed by
	// a buyer who already has an order.
	ErrCouponNewUsersOnly = errors.New("coupon valid for new users only")
	// ErrCouponMembersOnly is returned when a member coupon is redeemed by a
	// buyer without an active plan.
	ErrCouponMembersOnly = errors.New("coupon valid for members only")
)

// Coupon is a percentage discount on the order subtotal. GST and shipping
// are never discounted.
type Coupon struct {
	Code        string
	Description string
	Discount    decimal.Decimal // percent of subtotal
	ForNewUser  bool
	ForMember   bool
}

// Repository provides lookup and bulk maintenance of coupons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	Upsert(ctx context.Context, c *Coupon) error
}

// OrderHistory reports how many orders a buyer has placed, regardless of
// status, store or payment state.
type OrderHistory interface {
	CountByUser(ctx context.Context, userID string) (int, error)
}
