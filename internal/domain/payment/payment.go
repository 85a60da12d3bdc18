// Package payment turns a priced checkout into a gateway payment session.
package payment

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/order"
)

var (
	// ErrGateway wraps any failure talking to a payment gateway.
	ErrGateway = errors.New("payment gateway failure")
	// ErrVerificationFailed is returned when a gateway confirmation does not
	// authenticate.
	ErrVerificationFailed = errors.New("payment verification failed")
)

// Request is the payable side of one checkout attempt. Amount is the grand
// total across every created order.
type Request struct {
	OrderIDs    []string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// SessionStatus tells the orchestrator whether the buyer still has to act.
type SessionStatus int

const (
	// SessionCompleted needs nothing further from the buyer.
	SessionCompleted SessionStatus = iota
	// SessionPending waits for the buyer to pay and the gateway to call back.
	SessionPending
)

// Session is the result of initiating a payment.
type Session struct {
	Method         order.PaymentMethod
	Status         SessionStatus
	GatewayOrderID string
	// Amount is in minor currency units as sent to the gateway.
	Amount   int64
	Currency string
	URL      string
}

// Adapter initiates payment for a single method.
type Adapter interface {
	Method() order.PaymentMethod
	Initiate(ctx context.Context, req Request) (*Session, error)
}

// ToMinorUnits converts a decimal amount to the smallest currency unit,
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

const orderIDsKey = "orderIds"

// putOrderIDs writes ids into gateway notes or metadata as comma-joined
// chunks under orderIds_0, orderIds_1, ... Gateways cap value lengths and key
// counts, so no value exceeds valueLimit and at most maxKeys keys are used.
func putOrderIDs(dst map[string]string, ids []string, valueLimit, maxKeys int) error {
	var (
		b strings.Builder
		n int
	)
	flush := func() error {
		if b.Len() == 0 {
			return nil
		}
		if n == maxKeys {
			return errors.Errorf("%d order ids do not fit in %d metadata keys", len(ids), maxKeys)
		}
		dst[orderIDsKey+"_"+strconv.Itoa(n)] = b.String()
		n++
		b.Reset()
		return nil
	}
	for _, id := range ids {
		if len(id) > valueLimit {
			return errors.Errorf("order id %q longer than %d characters", id, valueLimit)
		}
		if b.Len() > 0 && b.Len()+1+len(id) > valueLimit {
			if err := flush(); err != nil {
				return err
			}
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(id)
	}
	return flush()
}

// OrderIDsFrom reads the ids written by an adapter into gateway notes or
// metadata. A single unchunked "orderIds" value is accepted as well.
func OrderIDsFrom(m map[string]string) []string {
	ids := SplitIDs(m[orderIDsKey])
	for i := 0; ; i++ {
		v, ok := m[orderIDsKey+"_"+strconv.Itoa(i)]
		if !ok {
			return ids
		}
		ids = append(ids, SplitIDs(v)...)
	}
}

// SplitIDs parses a comma-separated order id list.
func SplitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
