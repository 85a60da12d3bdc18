// Package handler exposes checkout, payment callbacks and fulfilment over HTTP.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/checkout"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
)

// maxBodyBytes bounds request bodies. Stripe payloads stay well below it.
const maxBodyBytes = 1 << 20

// Checkout is the buyer-facing checkout service.
type Checkout interface {
	PlaceOrder(ctx context.Context, buyer auth.Identity, req checkout.Request) (*checkout.Result, error)
	VerifyRazorpay(ctx context.Context, buyer auth.Identity, c payment.RazorpayConfirmation) (*checkout.Verification, error)
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*checkout.Verification, error)
	ListOrders(ctx context.Context, buyer auth.Identity) ([]order.Order, error)
}

// Fulfilment is the seller-facing order service.
type Fulfilment interface {
	ListStoreOrders(ctx context.Context, id auth.Identity, storeID string) ([]order.Order, error)
	AdvanceStatus(ctx context.Context, id auth.Identity, orderID string, next order.Status) (*order.Order, error)
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Handler routes API requests to the domain services.
type Handler struct {
	checkout   Checkout
	fulfilment Fulfilment
	tokens     TokenVerifier
}

// New creates a Handler.
func New(c Checkout, f Fulfilment, tokens TokenVerifier) *Handler {
	return &Handler{checkout: c, fulfilment: f, tokens: tokens}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/orders", h.authenticated(h.placeOrder))
	mux.Handle("GET /api/orders", h.authenticated(h.listOrders))
	mux.Handle("PATCH /api/orders/{orderId}/status", h.authenticated(h.advanceStatus))
	mux.Handle("GET /api/stores/{storeId}/orders", h.authenticated(h.listStoreOrders))
	mux.Handle("POST /api/payments/razorpay/order", h.authenticated(h.createRazorpayOrder))
	mux.Handle("POST /api/payments/razorpay/verify", h.authenticated(h.verifyRazorpay))
	// Stripe authenticates with its signature header, not a bearer token.
	mux.HandleFunc("POST /api/payments/stripe/webhook", h.stripeWebhook)
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

func (h *Handler) authenticated(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r.Header.Get("Authorization"))
		if !ok {
			h.fail(w, r, auth.ErrUnauthorized)
			return
		}
		id, err := h.tokens.Verify(token)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)), id)
	})
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
