package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ValidateCoupon reports whether a coupon code can be applied to the cart.
// An inapplicable coupon is a 422 carrying the failure reason.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	req, err := h.readCart(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	code := req.Code
	if code == "" {
		code = req.CouponCode
	}
	if code == "" {
		writeDomainError(w, r, errors.Wrap(errBadRequest, "code required"))
		return
	}

	rule, err := h.orders.ValidateCoupon(r.Context(), code, req.Request)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
	e.Field("discount", func(e *jx.Encoder) { encodeRule(e, rule) })
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// Matching lists the discounts eligible for the cart.
func (h *Handler) Matching(w http.ResponseWriter, r *http.Request) {
	req, err := h.readCart(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	rules, err := h.orders.Matching(r.Context(), req.Request)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.Field("discounts", func(e *jx.Encoder) {
		e.ArrStart()
		for _, rule := range rules {
			encodeRule(e, rule)
		}
		e.ArrEnd()
	})
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// Savings returns the savings recorded against a discount, across all orders
// or for the order named by the orderId query parameter.
func (h *Handler) Savings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeDomainError(w, r, errors.Wrap(errBadRequest, "invalid discount id"))
		return
	}

	orderID := r.URL.Query().Get("orderId")
	var savings decimal.Decimal
	if orderID == "" {
		savings, err = h.orders.SavingsTotal(r.Context(), id)
	} else {
		savings, err = h.orders.SavingsForOrder(r.Context(), id, orderID)
	}
	if err != nil {
		writeDomainError(w, r, errors.Wrap(err, "savings"))
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.Field("discountId", func(e *jx.Encoder) { e.Int64(id) })
	if orderID != "" {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(orderID) })
	}
	e.Field("savings", func(e *jx.Encoder) { money(e, savings.Round(2)) })
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
