package payment

import (
	"context"

	"github.com/xenking/bazaar/internal/domain/order"
)

// COD settles on delivery, so initiation never leaves the process.
type COD struct{}

// Method implements Adapter.
func (COD) Method() order.PaymentMethod { return order.PaymentCOD }

// Initiate implements Adapter.
func (COD) Initiate(_ context.Context, req Request) (*Session, error) {
	return &Session{
		Method:   order.PaymentCOD,
		Status:   SessionCompleted,
		Amount:   ToMinorUnits(req.Amount),
		Currency: req.Currency,
	}, nil
}
