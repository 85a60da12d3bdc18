package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bazaar/internal/domain/auth"
)

func (h *Handler) listStoreOrders(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	orders, err := h.fulfilment.ListStoreOrders(r.Context(), id, r.PathValue("storeId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrderList(e, orders) })
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	next, err := decodeStatusUpdate(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.fulfilment.AdvanceStatus(r.Context(), id, r.PathValue("orderId"), next)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, *o) })
}
