package discount

import "github.com/shopspring/decimal"

// Adjustment is a single reduction produced by evaluating a rule against a
// priceable entity (a line item, the cart subtotal or shipping).
type Adjustment struct {
	value  decimal.Decimal
	source *Rule
}

// NewAdjustment returns an adjustment of the given value attributed to source.
// Negative values are clamped to zero. Source may be nil.
func NewAdjustment(value decimal.Decimal, source *Rule) Adjustment {
	return Adjustment{value: floorAtZero(value), source: source}
}

// Value returns the reduction amount.
func (a Adjustment) Value() decimal.Decimal {
	return a.value
}

// Source returns the rule that produced the adjustment, or nil.
func (a Adjustment) Source() *Rule {
	return a.source
}

// BetterOf returns the adjustment with the larger value. Ties resolve to a.
func BetterOf(a, b Adjustment) Adjustment {
	if b.value.GreaterThan(a.value) {
		return b
	}
	return a
}
