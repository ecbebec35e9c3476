package discount

import (
	"github.com/shopspring/decimal"
)

// Contribution is one rule's share of an order's savings.
type Contribution struct {
	Rule *Rule
	// Items, Cart and Shipping are the raw sums won in each pass.
	Items    decimal.Decimal
	Cart     decimal.Decimal
	Shipping decimal.Decimal
	// Amount is the raw sum after the MaxAmount and balance caps.
	Amount decimal.Decimal
	// Capped is set when MaxAmount or the balance reduced the raw sum.
	Capped bool
	// Applied is the part of Amount that survived the order-level clamp.
	Applied decimal.Decimal
}

// LinePrice is the pricing trail of one distinct order line.
type LinePrice struct {
	Item Item
	Info *PriceInfo
}

// Result is the outcome of a calculation run.
type Result struct {
	// Total is the order's aggregate discount, within [0, Base].
	Total    decimal.Decimal
	Subtotal decimal.Decimal
	// Base is the discountable base: the subtotal plus shipping when a
	// shipping rule matched.
	Base          decimal.Decimal
	Contributions []Contribution
	Lines         []LinePrice
	Cart          *PriceInfo
	Shipping      *PriceInfo
	// Invalid lists misconfigured rules that were refused, if any.
	Invalid error
}

// Redemption is the intent to record a rule's use for a placed order. The
// order collaborator commits it; calculation never mutates counters.
type Redemption struct {
	RuleID int64
	Code   string
	Amount decimal.Decimal
	// DecrementBalance is set for partial-use rules, whose stored balance
	// must be reduced by Amount.
	DecrementBalance bool
}

// Applied returns the contributions that reduced the order total.
func (r Result) Applied() []Contribution {
	var out []Contribution
	for _, c := range r.Contributions {
		if c.Applied.IsPositive() {
			out = append(out, c)
		}
	}
	return out
}

// Redemptions returns the intents the order collaborator must commit when
// the order is placed.
func (r Result) Redemptions() []Redemption {
	var out []Redemption
	for _, c := range r.Applied() {
		out = append(out, Redemption{
			RuleID:           c.Rule.ID,
			Code:             c.Rule.Code(),
			Amount:           c.Applied,
			DecrementBalance: c.Rule.Kind() == KindPartialUse,
		})
	}
	return out
}

// Calculator computes the total savings of one order against a rule snapshot.
// It performs no I/O and holds no shared state, so Calculate is idempotent.
type Calculator struct {
	order   Order
	rc      Context
	matcher *Matcher
}

// NewCalculator returns a Calculator for the order, the redemption context
// and a snapshot of candidate rules.
func NewCalculator(rules []Rule, o Order, rc Context, opts ...MatcherOption) *Calculator {
	return &Calculator{
		order:   o,
		rc:      rc,
		matcher: NewMatcher(rules, opts...),
	}
}

// Calculate returns the order's total savings.
func (c *Calculator) Calculate() decimal.Decimal {
	return c.Run().Total
}

// Run performs the full calculation and returns its audit trail.
func (c *Calculator) Run() Result {
	subtotal := c.order.Subtotal()
	res := Result{
		Total:    zero,
		Subtotal: subtotal,
		Base:     subtotal,
		Cart:     NewPriceInfo(subtotal),
		Shipping: NewPriceInfo(c.order.Shipping),
	}

	rules, err := c.matcher.GetMatching(c.order, c.rc)
	res.Invalid = err
	if len(rules) == 0 {
		return res
	}

	contribs := make([]Contribution, len(rules))
	index := make(map[*Rule]int, len(rules))
	var itemRules, cartRules, shippingRules []*Rule
	for i, r := range rules {
		contribs[i] = Contribution{Rule: r, Items: zero, Cart: zero, Shipping: zero}
		index[r] = i
		// A rule flagged for both items and cart is an item discount.
		switch {
		case r.ForItems:
			itemRules = append(itemRules, r)
		case r.ForCart:
			cartRules = append(cartRules, r)
		}
		if r.ForShipping {
			shippingRules = append(shippingRules, r)
		}
	}

	// Item pass: per line, the best per-unit value wins and is scaled by quantity.
	for _, l := range distinctLines(c.order.Items) {
		for _, r := range itemRules {
			if r.AppliesTo(l.item) {
				l.info.Adjust(NewAdjustment(r.DiscountValue(l.item.UnitPrice), r))
			}
		}
		res.Lines = append(res.Lines, LinePrice{Item: l.item, Info: l.info})

		best, ok := l.info.BestAdjustment()
		if !ok || !best.Value().IsPositive() {
			continue
		}
		i := index[best.Source()]
		qty := decimal.NewFromInt(int64(l.item.Quantity))
		contribs[i].Items = contribs[i].Items.Add(best.Value().Mul(qty))
	}

	// Cart pass: every cart rule against its own scoped subtotal; these stack.
	for _, r := range cartRules {
		v := r.DiscountValue(c.order.ScopedSubtotal(r))
		res.Cart.Adjust(NewAdjustment(v, r))
		i := index[r]
		contribs[i].Cart = contribs[i].Cart.Add(v)
	}

	// Shipping pass: single winner against the shipping cost.
	for _, r := range shippingRules {
		if r.Restricted() && !c.order.ScopedSubtotal(r).IsPositive() {
			continue
		}
		res.Shipping.Adjust(NewAdjustment(r.DiscountValue(c.order.Shipping), r))
	}
	if len(shippingRules) > 0 {
		res.Base = res.Base.Add(floorAtZero(c.order.Shipping))
	}
	if best, ok := res.Shipping.BestAdjustment(); ok && best.Value().IsPositive() {
		i := index[best.Source()]
		contribs[i].Shipping = contribs[i].Shipping.Add(best.Value())
	}

	// Per-rule caps apply to the aggregate, never per entity.
	total := zero
	for i := range contribs {
		ct := &contribs[i]
		amount := ct.Items.Add(ct.Cart).Add(ct.Shipping)
		if ct.Rule.MaxAmount.IsPositive() && amount.GreaterThan(ct.Rule.MaxAmount) {
			amount = ct.Rule.MaxAmount
			ct.Capped = true
		}
		if b := ct.Rule.Balance; b != nil && amount.GreaterThan(b.Remaining) {
			amount = floorAtZero(b.Remaining)
			ct.Capped = true
		}
		ct.Amount = amount
		ct.Applied = amount
		total = total.Add(amount)
	}

	if total.GreaterThan(res.Base) {
		giveBack(contribs, total.Sub(res.Base))
		total = res.Base
	}

	res.Total = total
	res.Contributions = contribs
	return res
}

// giveBack removes excess savings from the contributions so that their
// applied amounts sum to the discountable base. Cart contributions, which
// stack on top of item and shipping savings, give back first; within each
// group the most recently created rule gives back first.
func giveBack(contribs []Contribution, excess decimal.Decimal) {
	take := func(ct *Contribution) {
		cut := decimal.Min(ct.Applied, excess)
		ct.Applied = ct.Applied.Sub(cut)
		excess = excess.Sub(cut)
	}
	for i := len(contribs) - 1; i >= 0 && excess.IsPositive(); i-- {
		if contribs[i].Cart.IsPositive() {
			take(&contribs[i])
		}
	}
	for i := len(contribs) - 1; i >= 0 && excess.IsPositive(); i-- {
		take(&contribs[i])
	}
}
