package rediscache

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
)

func encodeRules(rules []discount.Rule) []byte {
	var e jx.Encoder
	e.ArrStart()
	for i := range rules {
		encodeRule(&e, &rules[i])
	}
	e.ArrEnd()
	return e.Bytes()
}

func encodeRule(e *jx.Encoder, r *discount.Rule) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Int64(r.ID) })
	e.Field("title", func(e *jx.Encoder) { e.Str(r.Title) })
	e.Field("type", func(e *jx.Encoder) { e.Str(string(r.Type)) })
	e.Field("percent", func(e *jx.Encoder) { e.Str(r.Percent.String()) })
	e.Field("amount", func(e *jx.Encoder) { e.Str(r.Amount.String()) })
	e.Field("max_amount", func(e *jx.Encoder) { e.Str(r.MaxAmount.String()) })
	e.Field("for_items", func(e *jx.Encoder) { e.Bool(r.ForItems) })
	e.Field("for_cart", func(e *jx.Encoder) { e.Bool(r.ForCart) })
	e.Field("for_shipping", func(e *jx.Encoder) { e.Bool(r.ForShipping) })
	e.Field("active", func(e *jx.Encoder) { e.Bool(r.Active) })
	if r.StartDate != nil {
		e.Field("start_date", func(e *jx.Encoder) { e.Str(r.StartDate.Format(time.RFC3339Nano)) })
	}
	if r.EndDate != nil {
		e.Field("end_date", func(e *jx.Encoder) { e.Str(r.EndDate.Format(time.RFC3339Nano)) })
	}
	e.Field("min_order_value", func(e *jx.Encoder) { e.Str(r.MinOrderValue.String()) })
	e.Field("product_ids", func(e *jx.Encoder) { encodeStrings(e, r.ProductIDs) })
	e.Field("category_ids", func(e *jx.Encoder) { encodeStrings(e, r.CategoryIDs) })
	e.Field("use_limit", func(e *jx.Encoder) { e.Int(r.UseLimit) })
	e.Field("uses", func(e *jx.Encoder) { e.Int(r.Uses) })
	e.Field("created_at", func(e *jx.Encoder) { e.Str(r.CreatedAt.Format(time.RFC3339Nano)) })
	if r.Coupon != nil {
		e.Field("code", func(e *jx.Encoder) { e.Str(r.Coupon.Code) })
	}
	if r.Balance != nil {
		e.Field("balance", func(e *jx.Encoder) { e.Str(r.Balance.Remaining.String()) })
	}
	e.ObjEnd()
}

func encodeStrings(e *jx.Encoder, vs []string) {
	e.ArrStart()
	for _, v := range vs {
		e.Str(v)
	}
	e.ArrEnd()
}

func decodeRules(data []byte) ([]discount.Rule, error) {
	rules := []discount.Rule{}
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var r discount.Rule
		if err := decodeRule(d, &r); err != nil {
			return err
		}
		rules = append(rules, r)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode rules")
	}
	return rules, nil
}

func decodeRule(d *jx.Decoder, r *discount.Rule) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			r.ID, err = d.Int64()
		case "title":
			r.Title, err = d.Str()
		case "type":
			var s string
			s, err = d.Str()
			r.Type = discount.Type(s)
		case "percent":
			r.Percent, err = decodeDecimal(d)
		case "amount":
			r.Amount, err = decodeDecimal(d)
		case "max_amount":
			r.MaxAmount, err = decodeDecimal(d)
		case "for_items":
			r.ForItems, err = d.Bool()
		case "for_cart":
			r.ForCart, err = d.Bool()
		case "for_shipping":
			r.ForShipping, err = d.Bool()
		case "active":
			r.Active, err = d.Bool()
		case "start_date":
			r.StartDate, err = decodeTimePtr(d)
		case "end_date":
			r.EndDate, err = decodeTimePtr(d)
		case "min_order_value":
			r.MinOrderValue, err = decodeDecimal(d)
		case "product_ids":
			r.ProductIDs, err = decodeStrings(d)
		case "category_ids":
			r.CategoryIDs, err = decodeStrings(d)
		case "use_limit":
			r.UseLimit, err = d.Int()
		case "uses":
			r.Uses, err = d.Int()
		case "created_at":
			var t *time.Time
			if t, err = decodeTimePtr(d); err == nil {
				r.CreatedAt = *t
			}
		case "code":
			var s string
			s, err = d.Str()
			r.Coupon = &discount.Coupon{Code: s}
		case "balance":
			var v decimal.Decimal
			v, err = decodeDecimal(d)
			r.Balance = &discount.Balance{Remaining: v}
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

func decodeTimePtr(d *jx.Decoder) (*time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}
