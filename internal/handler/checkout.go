package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/checkout"
	"github.com/xenking/bazaar/internal/domain/order"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	req, err := decodeCheckoutRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.runCheckout(w, r, id, req)
}

// createRazorpayOrder is the Razorpay-only variant of placeOrder used by the
// storefront's Razorpay checkout widget.
func (h *Handler) createRazorpayOrder(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	req, err := decodeCheckoutRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.PaymentMethod != "" && req.PaymentMethod != order.PaymentRazorpay {
		h.fail(w, r, errors.Wrap(checkout.ErrInvalidRequest, "payment method must be RAZORPAY"))
		return
	}
	req.PaymentMethod = order.PaymentRazorpay
	h.runCheckout(w, r, id, req)
}

func (h *Handler) runCheckout(w http.ResponseWriter, r *http.Request, id auth.Identity, req checkout.Request) {
	res, err := h.checkout.PlaceOrder(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeResult(e, res) })
}

func (h *Handler) verifyRazorpay(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	c, err := decodeRazorpayConfirmation(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.checkout.VerifyRazorpay(r.Context(), id, c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("message")
		e.Str("Payment verified")
		e.FieldStart("orderIds")
		encodeStrings(e, v.OrderIDs)
		e.FieldStart("newlyPaid")
		encodeStrings(e, v.NewlyPaid)
		e.ObjEnd()
	})
}

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, errors.Wrap(checkout.ErrInvalidRequest, "read body"))
		return
	}
	if _, err := h.checkout.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("received")
		e.Bool(true)
		e.ObjEnd()
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	orders, err := h.checkout.ListOrders(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrderList(e, orders) })
}
