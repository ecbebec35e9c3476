package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
	"github.com/xenking/oolio-discounts/internal/domain/order"
	"github.com/xenking/oolio-discounts/internal/domain/product"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// cartRequest is the body shared by quote, order and discount lookups.
type cartRequest struct {
	order.Request
	// Code is the coupon to validate; only the validate endpoint reads it.
	Code string
}

func (h *Handler) readCart(w http.ResponseWriter, r *http.Request) (cartRequest, error) {
	var req cartRequest
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return req, errors.Wrap(errBadRequest, err.Error())
	}
	err = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				req.Items = append(req.Items, item)
				return err
			})
		case "couponCode":
			req.CouponCode, err = d.Str()
		case "code":
			req.Code, err = d.Str()
		case "shipping":
			req.Shipping, err = decodeMoney(d)
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return req, errors.Wrap(errBadRequest, err.Error())
	}
	return req, nil
}

func decodeItem(d *jx.Decoder) (order.Item, error) {
	var item order.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			item.ProductID, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return item, err
}

// decodeMoney accepts a JSON number or a numeric string.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		s = v
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		s = n.String()
	}
	return decimal.NewFromString(s)
}

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Float64(v.InexactFloat64())
}

func writeJSON(w http.ResponseWriter, code int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, msg string, reason discount.Reason) {
	var e jx.Encoder
	e.ObjStart()
	e.Field("code", func(e *jx.Encoder) { e.Int(code) })
	e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	if reason != "" {
		e.Field("reason", func(e *jx.Encoder) { e.Str(string(reason)) })
	}
	e.ObjEnd()
	writeJSON(w, code, &e)
}

// writeDomainError maps domain errors to 400, 422 or 500 responses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr  *order.InvalidQuantityError
		pnfErr *order.ProductNotFoundError
		verr   *discount.ValidationError
		cerr   *discount.ConfigError
	)
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidShipping):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error(), "")
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusUnprocessableEntity, pnfErr.Error(), "")
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Message, verr.Reason)
	case errors.As(err, &cerr):
		writeError(w, http.StatusUnprocessableEntity, "discount is misconfigured", cerr.Reason)
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error", "")
	}
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	base := h.imageBaseURL
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
	e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
	e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
	e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
	e.Field("image", func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("thumbnail", func(e *jx.Encoder) { e.Str(base + p.Image.Thumbnail) })
		e.Field("mobile", func(e *jx.Encoder) { e.Str(base + p.Image.Mobile) })
		e.Field("tablet", func(e *jx.Encoder) { e.Str(base + p.Image.Tablet) })
		e.Field("desktop", func(e *jx.Encoder) { e.Str(base + p.Image.Desktop) })
		e.ObjEnd()
	})
	e.ObjEnd()
}

func (h *Handler) encodeProducts(e *jx.Encoder, products []product.Product) {
	e.ArrStart()
	for _, p := range products {
		h.encodeProduct(e, p)
	}
	e.ArrEnd()
}

func encodeApplied(e *jx.Encoder, applied []order.AppliedDiscount) {
	e.ArrStart()
	for _, a := range applied {
		e.ObjStart()
		e.Field("id", func(e *jx.Encoder) { e.Int64(a.DiscountID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(a.Title) })
		if a.Code != "" {
			e.Field("code", func(e *jx.Encoder) { e.Str(a.Code) })
		}
		e.Field("amount", func(e *jx.Encoder) { money(e, a.Amount) })
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeRule(e *jx.Encoder, r *discount.Rule) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Int64(r.ID) })
	e.Field("title", func(e *jx.Encoder) { e.Str(r.Title) })
	e.Field("kind", func(e *jx.Encoder) { e.Str(string(r.Kind())) })
	e.Field("type", func(e *jx.Encoder) { e.Str(string(r.Type)) })
	e.Field("label", func(e *jx.Encoder) { e.Str(r.String()) })
	e.Field("forItems", func(e *jx.Encoder) { e.Bool(r.ForItems) })
	e.Field("forCart", func(e *jx.Encoder) { e.Bool(r.ForCart) })
	e.Field("forShipping", func(e *jx.Encoder) { e.Bool(r.ForShipping) })
	if r.EndDate != nil {
		e.Field("endDate", func(e *jx.Encoder) { e.Str(r.EndDate.UTC().Format("2006-01-02T15:04:05Z07:00")) })
	}
	if r.Balance != nil {
		e.Field("balance", func(e *jx.Encoder) { money(e, r.Balance.Remaining) })
	}
	e.ObjEnd()
}
