package discount

import "github.com/shopspring/decimal"

// PriceInfo tracks one priceable quantity through a sequence of adjustments.
//
// Price is not floored at zero here; the Calculator clamps at aggregate level.
type PriceInfo struct {
	original    decimal.Decimal
	adjustments []Adjustment
}

// NewPriceInfo returns a PriceInfo seeded with the original price.
func NewPriceInfo(original decimal.Decimal) *PriceInfo {
	return &PriceInfo{original: original}
}

// Adjust appends an adjustment to the history.
func (p *PriceInfo) Adjust(a Adjustment) {
	p.adjustments = append(p.adjustments, a)
}

// OriginalPrice returns the price before any adjustment.
func (p *PriceInfo) OriginalPrice() decimal.Decimal {
	return p.original
}

// Price returns the original price minus the compounded discount.
func (p *PriceInfo) Price() decimal.Decimal {
	return p.original.Sub(p.CompoundedDiscount())
}

// CompoundedDiscount returns the sum of all adjustment values.
func (p *PriceInfo) CompoundedDiscount() decimal.Decimal {
	sum := zero
	for _, a := range p.adjustments {
		sum = sum.Add(a.value)
	}
	return sum
}

// BestDiscount returns the largest adjustment value, or zero when none were applied.
func (p *PriceInfo) BestDiscount() decimal.Decimal {
	best, ok := p.BestAdjustment()
	if !ok {
		return zero
	}
	return best.value
}

// BestAdjustment returns the winning adjustment. The earliest one wins ties.
func (p *PriceInfo) BestAdjustment() (Adjustment, bool) {
	if len(p.adjustments) == 0 {
		return Adjustment{}, false
	}
	best := p.adjustments[0]
	for _, a := range p.adjustments[1:] {
		best = BetterOf(best, a)
	}
	return best, true
}

// Adjustments returns the applied adjustments in insertion order.
func (p *PriceInfo) Adjustments() []Adjustment {
	out := make([]Adjustment, len(p.adjustments))
	copy(out, p.adjustments)
	return out
}
