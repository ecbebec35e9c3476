package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
	"github.com/xenking/oolio-discounts/internal/domain/product"
)

func decodeProducts(data []byte) ([]product.Product, error) {
	var out []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p product.Product
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "price":
				p.Price, err = decodeDecimal(d)
			case "category":
				p.Category, err = d.Str()
			case "image":
				err = d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "thumbnail":
						p.Image.Thumbnail, err = d.Str()
					case "mobile":
						p.Image.Mobile, err = d.Str()
					case "tablet":
						p.Image.Tablet, err = d.Str()
					case "desktop":
						p.Image.Desktop, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				})
			default:
				err = d.Skip()
			}
			return errors.Wrap(err, key)
		})
		if err != nil {
			return err
		}
		if p.ID == "" {
			return errors.Errorf("product %d: id required", len(out))
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// decodeRules reads discount rules. Absent flags keep the defaults of
// discount.NewRule.
func decodeRules(data []byte) ([]discount.Rule, error) {
	var out []discount.Rule
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		r := discount.NewRule("", "")
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
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
			case "maxAmount":
				r.MaxAmount, err = decodeDecimal(d)
			case "minOrderValue":
				r.MinOrderValue, err = decodeDecimal(d)
			case "forItems":
				r.ForItems, err = d.Bool()
			case "forCart":
				r.ForCart, err = d.Bool()
			case "forShipping":
				r.ForShipping, err = d.Bool()
			case "active":
				r.Active, err = d.Bool()
			case "startDate":
				r.StartDate, err = decodeTime(d)
			case "endDate":
				r.EndDate, err = decodeTime(d)
			case "productIds":
				r.ProductIDs, err = decodeStrings(d)
			case "categoryIds":
				r.CategoryIDs, err = decodeStrings(d)
			case "useLimit":
				r.UseLimit, err = d.Int()
			case "code":
				var code string
				code, err = d.Str()
				r.Coupon = &discount.Coupon{Code: code}
			case "balance":
				var v decimal.Decimal
				v, err = decodeDecimal(d)
				r.Balance = &discount.Balance{Remaining: v}
			default:
				err = d.Skip()
			}
			return errors.Wrap(err, key)
		})
		if err != nil {
			return err
		}
		if r.Title == "" {
			return errors.Errorf("discount %d: title required", len(out))
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
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
