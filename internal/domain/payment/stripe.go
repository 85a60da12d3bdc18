package payment

import (
	"context"
	"fmt"

	"github.com/xenking/bazaar/internal/domain/order"
)

// Stripe checkout session events. A completed session settles the checkout
// only when its payment status is paid; delayed methods settle with the
// async success event instead.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"

	PaymentStatusPaid = "paid"
)

// Stripe allows 50 metadata keys with values of up to 500 characters. Two
// keys carry the user and app ids.
const (
	stripeMetadataLimit = 500
	stripeIDKeys        = 48
)

// StripeSessionRequest describes a hosted checkout session.
type StripeSessionRequest struct {
	Name     string
	Amount   int64
	Currency string
	Metadata map[string]string
}

// StripeEvent is a verified webhook event.
type StripeEvent struct {
	ID            string
	Type          string
	PaymentStatus string
	Metadata      map[string]string
}

// StripeSessions is the subset of the Stripe API checkout needs.
type StripeSessions interface {
	CreateSession(ctx context.Context, req StripeSessionRequest) (id, url string, err error)
	ParseEvent(payload []byte, signature string) (*StripeEvent, error)
}

// StripeConfirmation is a settled checkout relayed by webhook. Relevant is
// false for events this deployment must acknowledge but not act on.
type StripeConfirmation struct {
	EventID  string
	OrderIDs []string
	UserID   string
	Relevant bool
}

// Stripe is the legacy hosted-checkout adapter.
type Stripe struct {
	client StripeSessions
	appID  string
}

// NewStripe creates the adapter. appID tags sessions so that webhooks
// belonging to other applications on the same Stripe account are skipped.
func NewStripe(client StripeSessions, appID string) *Stripe {
	return &Stripe{client: client, appID: appID}
}

// Method implements Adapter.
func (s *Stripe) Method() order.PaymentMethod { return order.PaymentStripe }

// Initiate implements Adapter.
func (s *Stripe) Initiate(ctx context.Context, req Request) (*Session, error) {
	name := req.Description
	if name == "" {
		name = "Order payment"
	}
	amount := ToMinorUnits(req.Amount)
	metadata := map[string]string{
		"userId": req.UserID,
		"appId":  s.appID,
	}
	if err := putOrderIDs(metadata, req.OrderIDs, stripeMetadataLimit, stripeIDKeys); err != nil {
		return nil, fmt.Errorf("stripe metadata: %w: %w", ErrGateway, err)
	}

	id, url, err := s.client.CreateSession(ctx, StripeSessionRequest{
		Name:     name,
		Amount:   amount,
		Currency: req.Currency,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create stripe session: %w: %w", ErrGateway, err)
	}

	return &Session{
		Method:         order.PaymentStripe,
		Status:         SessionPending,
		GatewayOrderID: id,
		Amount:         amount,
		Currency:       req.Currency,
		URL:            url,
	}, nil
}

// Confirm verifies a webhook delivery and extracts the settled orders.
func (s *Stripe) Confirm(payload []byte, signature string) (*StripeConfirmation, error) {
	ev, err := s.client.ParseEvent(payload, signature)
	if err != nil {
		return nil, fmt.Errorf("parse stripe event: %w: %w", ErrVerificationFailed, err)
	}

	c := &StripeConfirmation{EventID: ev.ID}
	if !settles(ev) || ev.Metadata["appId"] != s.appID {
		return c, nil
	}
	c.OrderIDs = OrderIDsFrom(ev.Metadata)
	c.UserID = ev.Metadata["userId"]
	c.Relevant = len(c.OrderIDs) > 0
	return c, nil
}

func settles(ev *StripeEvent) bool {
	switch ev.Type {
	case EventCheckoutCompleted:
		return ev.PaymentStatus == PaymentStatusPaid
	case EventAsyncPaymentSucceeded:
		return true
	}
	return false
}
