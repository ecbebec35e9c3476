package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// Quote prices the cart without placing an order.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, err := h.readCart(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	q, err := h.orders.Quote(r.Context(), req.Request)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.Field("subtotal", func(e *jx.Encoder) { money(e, q.Subtotal) })
	e.Field("shipping", func(e *jx.Encoder) { money(e, q.Shipping) })
	e.Field("discounts", func(e *jx.Encoder) { money(e, q.Discounts) })
	e.Field("total", func(e *jx.Encoder) { money(e, q.Total) })
	e.Field("appliedDiscounts", func(e *jx.Encoder) { encodeApplied(e, q.Applied) })
	e.Field("products", func(e *jx.Encoder) { h.encodeProducts(e, q.Products) })
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// PlaceOrder prices the cart, persists the order and commits its redemptions.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := h.readCart(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	result, err := h.orders.PlaceOrder(r.Context(), req.Request)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	o := result.Order

	var e jx.Encoder
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field("items", func(e *jx.Encoder) {
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
			e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
			e.ObjEnd()
		}
		e.ArrEnd()
	})
	e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
	e.Field("shipping", func(e *jx.Encoder) { money(e, o.Shipping) })
	e.Field("discounts", func(e *jx.Encoder) { money(e, o.Discounts) })
	e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
	e.Field("appliedDiscounts", func(e *jx.Encoder) { encodeApplied(e, o.Applied) })
	e.Field("products", func(e *jx.Encoder) { h.encodeProducts(e, result.Products) })
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
