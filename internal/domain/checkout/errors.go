package checkout

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/product"
	"github.com/xenking/bazaar/internal/domain/store"
)

var (
	// ErrInvalidRequest is malformed input. Nothing was written.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPersistenceFailure is a storage error while recording orders.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrGatewayFailure means the payment gateway was unreachable or
	// rejected the request.
	ErrGatewayFailure = errors.New("payment gateway failure")
	// ErrPaymentVerificationFailed means a payment confirmation did not
	// authenticate or does not match the orders it names. Orders are untouched.
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
)

// RecordedError is returned when orders were persisted but a later step
// failed. The orders remain as unpaid records.
type RecordedError struct {
	OrderIDs []string
	Err      error
}

func (e *RecordedError) Error() string {
	return fmt.Sprintf("orders %s recorded: %s", strings.Join(e.OrderIDs, ","), e.Err)
}

func (e *RecordedError) Unwrap() error { return e.Err }

func invalid(msg string) error {
	return errors.Wrap(ErrInvalidRequest, msg)
}

// Kind classifies err into a stable, client-visible error kind.
func Kind(err error) string {
	var pnf *order.ProductNotFoundError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, auth.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, coupon.ErrCouponNotFound):
		return "coupon_not_found"
	case errors.Is(err, coupon.ErrCouponNewUsersOnly):
		return "coupon_new_users_only"
	case errors.Is(err, coupon.ErrCouponMembersOnly):
		return "coupon_members_only"
	case errors.As(err, &pnf):
		return "product_not_found"
	case errors.Is(err, product.ErrVariantNotFound):
		return "variant_not_found"
	case errors.Is(err, order.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPaymentVerificationFailed):
		return "payment_verification_failed"
	case errors.Is(err, ErrGatewayFailure):
		return "gateway_failure"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	default:
		return "internal"
	}
}
