// Package stripe adapts stripe-go to the checkout session and webhook
// operations the payment adapter needs.
package stripe

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/xenking/bazaar/internal/domain/payment"
)

// Config holds Stripe credentials and redirect targets.
type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Client implements payment.StripeSessions.
type Client struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

var _ payment.StripeSessions = (*Client)(nil)

// New creates a Client.
func New(cfg Config) *Client {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Client{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// CreateSession creates a hosted checkout session with a single line item.
func (c *Client) CreateSession(ctx context.Context, req payment.StripeSessionRequest) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Name),
				},
				UnitAmount: stripe.Int64(req.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", errors.Wrap(err, "create checkout session")
	}
	return s.ID, s.URL, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
// Only checkout session events carry metadata.
func (c *Client) ParseEvent(payload []byte, signature string) (*payment.StripeEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "construct event")
	}

	out := &payment.StripeEvent{ID: ev.ID, Type: string(ev.Type)}
	if !strings.HasPrefix(out.Type, "checkout.session.") || ev.Data == nil {
		return out, nil
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, errors.Wrap(err, "decode checkout session")
	}
	out.Metadata = s.Metadata
	out.PaymentStatus = string(s.PaymentStatus)
	return out, nil
}
