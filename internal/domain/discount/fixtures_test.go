package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var (
	socks     = Item{ProductID: "socks", CategoryID: "clothing", UnitPrice: d("8")}
	tshirt    = Item{ProductID: "tshirt", CategoryID: "clothing", UnitPrice: d("25")}
	mp3player = Item{ProductID: "mp3player", CategoryID: "electronics", UnitPrice: d("200")}

	created = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedAt = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
)

func qty(it Item, n int) Item {
	it.Quantity = n
	return it
}

func emptyCart() Order { return Order{} }

// cart holds a single pair of socks; subtotal 8.
func cart() Order { return Order{Items: []Item{qty(socks, 1)}} }

// otherCart holds a single mp3 player; subtotal 200.
func otherCart() Order { return Order{Items: []Item{qty(mp3player, 1)}} }

// megaCart: 20 socks, 10 t-shirts and 2 mp3 players; subtotal 810.
func megaCart() Order {
	return Order{Items: []Item{qty(socks, 20), qty(tshirt, 10), qty(mp3player, 2)}}
}

// unpaid: 4 t-shirts and 2 mp3 players; subtotal 500.
func unpaid() Order {
	return Order{Items: []Item{qty(tshirt, 4), qty(mp3player, 2)}}
}

type ruleOpt func(*Rule)

func percentRule(id int64, title, pct string, opts ...ruleOpt) Rule {
	r := NewRule(title, TypePercent)
	r.ID = id
	r.Percent = d(pct)
	r.CreatedAt = created.Add(time.Duration(id) * time.Minute)
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func amountRule(id int64, title, amount string, opts ...ruleOpt) Rule {
	r := NewRule(title, TypeAmount)
	r.ID = id
	r.Amount = d(amount)
	r.CreatedAt = created.Add(time.Duration(id) * time.Minute)
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func cartOnly(r *Rule)  { r.ForItems, r.ForCart = false, true }
func itemsOnly(r *Rule) { r.ForItems, r.ForCart = true, false }

func shippingOnly(r *Rule) { r.ForItems, r.ForCart, r.ForShipping = false, false, true }

func withCode(code string) ruleOpt {
	return func(r *Rule) { r.Coupon = &Coupon{Code: code} }
}

func withMax(amount string) ruleOpt {
	return func(r *Rule) { r.MaxAmount = d(amount) }
}

func withProducts(ids ...string) ruleOpt {
	return func(r *Rule) { r.ProductIDs = ids }
}

func withCategories(ids ...string) ruleOpt {
	return func(r *Rule) { r.CategoryIDs = ids }
}

func withBalance(remaining string) ruleOpt {
	return func(r *Rule) { r.Balance = &Balance{Remaining: d(remaining)} }
}

func inactive(r *Rule) { r.Active = false }

func calc(rules []Rule, o Order, code string) decimal.Decimal {
	return NewCalculator(rules, o, Context{CouponCode: code, Now: fixedAt}).Calculate()
}
