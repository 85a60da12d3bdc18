// Package fulfilment holds the seller and operator actions on placed orders.
package fulfilment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/store"
)

// ErrInvalidTransition is returned for unknown or backward status changes.
var ErrInvalidTransition = errors.New("invalid status transition")

// Service lets store owners and master vendors manage orders.
type Service struct {
	orders order.Repository
	stores store.Repository
	policy auth.Policy
}

// NewService creates a fulfilment Service.
func NewService(orders order.Repository, stores store.Repository, policy auth.Policy) *Service {
	return &Service{orders: orders, stores: stores, policy: policy}
}

// ListStoreOrders returns every order of storeID, newest first.
func (s *Service) ListStoreOrders(ctx context.Context, id auth.Identity, storeID string) ([]order.Order, error) {
	if err := s.authorize(ctx, id, storeID); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("list store orders: %w", err)
	}
	return orders, nil
}

// AdvanceStatus moves an order forward. Delivering a cash-on-delivery order
// settles it.
func (s *Service) AdvanceStatus(ctx context.Context, id auth.Identity, orderID string, next order.Status) (*order.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	if err := s.authorize(ctx, id, o.StoreID); err != nil {
		return nil, err
	}
	if !o.Status.CanAdvanceTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, next)
	}

	settle := next == order.StatusDelivered && o.PaymentMethod == order.PaymentCOD && !o.IsPaid
	if err := s.orders.UpdateStatus(ctx, o.ID, o.Status, next, settle); err != nil {
		if errors.Is(err, order.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	zctx.From(ctx).Info("Order status advanced",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(next)),
		zap.Bool("settled", settle),
	)
	o.Status = next
	o.IsPaid = o.IsPaid || settle
	return o, nil
}

func (s *Service) authorize(ctx context.Context, id auth.Identity, storeID string) error {
	if id.UserID == "" {
		return auth.ErrUnauthorized
	}
	if s.policy.Role(id) == auth.RoleMasterVendor {
		return nil
	}
	st, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return fmt.Errorf("get store: %w", err)
	}
	if st.UserID != id.UserID {
		return fmt.Errorf("store %s: %w", storeID, auth.ErrForbidden)
	}
	return nil
}
