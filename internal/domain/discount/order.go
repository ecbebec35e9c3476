package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a line item of the order being priced.
type Item struct {
	ProductID  string
	CategoryID string
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Total returns unit price times quantity.
func (it Item) Total() decimal.Decimal {
	if it.Quantity <= 0 {
		return zero
	}
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Order is a read-only snapshot of a cart or order.
type Order struct {
	Items    []Item
	Shipping decimal.Decimal
}

// Subtotal returns the sum of all line totals.
func (o Order) Subtotal() decimal.Decimal {
	sum := zero
	for _, it := range o.Items {
		sum = sum.Add(it.Total())
	}
	return sum
}

// ScopedSubtotal returns the sum of line totals the rule applies to.
func (o Order) ScopedSubtotal(r *Rule) decimal.Decimal {
	sum := zero
	for _, it := range o.Items {
		if r.AppliesTo(it) {
			sum = sum.Add(it.Total())
		}
	}
	return sum
}

// Context carries run-time redemption input for one calculation.
type Context struct {
	// CouponCode is the code entered at checkout, if any.
	CouponCode string
	// Now pins the evaluation instant. Zero means the matcher's clock.
	Now time.Time
}

// line is a distinct priceable line: items sharing a product and unit price
// are merged and their quantities summed.
type line struct {
	item Item
	info *PriceInfo
}

// distinctLines groups items by product identity in first-appearance order.
func distinctLines(items []Item) []*line {
	type key struct {
		product string
		price   string
	}
	var (
		lines []*line
		index = make(map[key]*line, len(items))
	)
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		k := key{product: it.ProductID, price: it.UnitPrice.String()}
		if l, ok := index[k]; ok {
			l.item.Quantity += it.Quantity
			continue
		}
		l := &line{item: it, info: NewPriceInfo(it.UnitPrice)}
		index[k] = l
		lines = append(lines, l)
	}
	return lines
}
