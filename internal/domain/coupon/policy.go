package coupon

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// Policy decides whether a buyer may redeem a coupon. It is read-only: a
// coupon carries no usage counter and redemption is implied by the coupon
// snapshot stored on the resulting orders.
type Policy struct {
	coupons Repository
	history OrderHistory
}

// NewPolicy creates a Policy backed by the coupon store and order history.
func NewPolicy(coupons Repository, history OrderHistory) *Policy {
	return &Policy{coupons: coupons, history: history}
}

// Validate returns the coupon for code if userID may use it. An empty code
// yields a nil coupon and no error.
func (p *Policy) Validate(ctx context.Context, code, userID string, isMember bool) (*Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	c, err := p.coupons.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if c.ForNewUser {
		n, err := p.history.CountByUser(ctx, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count user orders")
		}
		if n > 0 {
			return nil, ErrCouponNewUsersOnly
		}
	}

	if c.ForMember && !isMember {
		return nil, ErrCouponMembersOnly
	}

	return c, nil
}
