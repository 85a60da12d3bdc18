package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/checkout"
	"github.com/xenking/bazaar/internal/domain/fulfilment"
)

const kindInvalidTransition = "invalid_transition"

var statusByKind = map[string]int{
	"invalid_request":             http.StatusBadRequest,
	kindInvalidTransition:         http.StatusBadRequest,
	"unauthorized":                http.StatusUnauthorized,
	"forbidden":                   http.StatusForbidden,
	"coupon_not_found":            http.StatusUnprocessableEntity,
	"coupon_new_users_only":       http.StatusUnprocessableEntity,
	"coupon_members_only":         http.StatusUnprocessableEntity,
	"product_not_found":           http.StatusUnprocessableEntity,
	"variant_not_found":           http.StatusUnprocessableEntity,
	"not_found":                   http.StatusNotFound,
	"payment_verification_failed": http.StatusBadRequest,
	"gateway_failure":             http.StatusBadGateway,
	"persistence_failure":         http.StatusInternalServerError,
	"internal":                    http.StatusInternalServerError,
}

// Server-side failures get a fixed message so storage and gateway details
// stay in the logs.
var publicMessage = map[string]string{
	"gateway_failure":     "payment gateway unavailable",
	"persistence_failure": "could not record the order",
	"internal":            "internal server error",
}

func errorKind(err error) string {
	if errors.Is(err, fulfilment.ErrInvalidTransition) {
		return kindInvalidTransition
	}
	return checkout.Kind(err)
}

// fail writes {code, message, kind, ordersRecorded, orderIds}.
// ordersRecorded tells the client that orders exist even though the request
// failed, so it must not simply retry the checkout.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := errorKind(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	var recorded *checkout.RecordedError
	isRecorded := errors.As(err, &recorded)

	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.String("kind", kind), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.String("kind", kind), zap.Error(err))
	}

	message, ok := publicMessage[kind]
	if !ok {
		message = err.Error()
	}
	if isRecorded {
		message = "order recorded but payment was not started: " + message
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.FieldStart("kind")
		e.Str(kind)
		e.FieldStart("ordersRecorded")
		e.Bool(isRecorded)
		if isRecorded {
			e.FieldStart("orderIds")
			encodeStrings(e, recorded.OrderIDs)
		}
		e.ObjEnd()
	})
}
