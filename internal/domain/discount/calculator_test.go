package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustment(t *testing.T) {
	a1 := NewAdjustment(d("10"), nil)
	a2 := NewAdjustment(d("5"), nil)

	assert.True(t, d("10").Equal(a1.Value()))
	assert.Equal(t, a1, BetterOf(a1, a2))
	assert.Equal(t, a1, BetterOf(a2, a1))

	tie := NewAdjustment(d("10"), &Rule{ID: 2})
	assert.Equal(t, a1, BetterOf(a1, tie), "ties resolve to the first operand")
	assert.True(t, NewAdjustment(d("-3"), nil).Value().IsZero())
}

func TestPriceInfo(t *testing.T) {
	p := NewPriceInfo(d("20"))
	assert.True(t, d("20").Equal(p.Price()))
	assert.True(t, d("20").Equal(p.OriginalPrice()))
	assert.True(t, p.CompoundedDiscount().IsZero())
	assert.True(t, p.BestDiscount().IsZero())
	assert.Empty(t, p.Adjustments())

	a1 := NewAdjustment(d("1"), &Rule{Title: "a"})
	a2 := NewAdjustment(d("5"), &Rule{Title: "b"})
	a3 := NewAdjustment(d("2"), &Rule{Title: "c"})
	p.Adjust(a1)
	p.Adjust(a2)
	p.Adjust(a3)

	assert.True(t, d("12").Equal(p.Price()))
	assert.True(t, d("20").Equal(p.OriginalPrice()))
	assert.True(t, d("8").Equal(p.CompoundedDiscount()))
	assert.True(t, d("5").Equal(p.BestDiscount()))
	assert.Equal(t, []Adjustment{a1, a2, a3}, p.Adjustments())
}

func TestPriceInfo_NotFloored(t *testing.T) {
	p := NewPriceInfo(d("3"))
	p.Adjust(NewAdjustment(d("2"), nil))
	p.Adjust(NewAdjustment(d("4"), nil))

	assert.True(t, d("-3").Equal(p.Price()))
}

func TestBasicItemDiscount(t *testing.T) {
	r := percentRule(1, "10% off", "0.1")

	assert.True(t, d("1").Equal(r.DiscountValue(d("10"))), "10% of 10 is 1")
	require.NoError(t, r.ValidateOrder(cart(), Context{Now: fixedAt}))

	matched, err := NewMatcher([]Rule{r}).GetMatching(cart(), Context{Now: fixedAt})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "10% off", matched[0].Title)

	assert.True(t, d("0.8").Equal(calc([]Rule{r}, cart(), "")))
}

func TestItemLevelPercentAndAmountDiscounts(t *testing.T) {
	rules := []Rule{
		percentRule(1, "10% off", "0.10"),
		amountRule(2, "$5 off", "5"),
	}

	matched, err := NewMatcher(rules).GetMatching(cart(), Context{Now: fixedAt})
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, "10% off", matched[0].Title)
	assert.Equal(t, "$5 off", matched[1].Title)

	tests := []struct {
		name  string
		order Order
		want  string
	}{
		{name: "nothing in cart", order: emptyCart(), want: "0"},
		{name: "$5 off $8 is best discount", order: cart(), want: "5"},
		{name: "10% off $200 is best discount", order: otherCart(), want: "20"},
		{name: "complex savings example", order: megaCart(), want: "190"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc(rules, tt.order, "")
			assert.True(t, d(tt.want).Equal(got), "expected %s, got %s", tt.want, got)
		})
	}

	res := NewCalculator(rules, megaCart(), Context{Now: fixedAt}).Run()
	applied := res.Applied()
	require.Len(t, applied, 2)
	assert.Equal(t, "10% off", applied[0].Rule.Title)
	assert.True(t, d("40").Equal(applied[0].Applied))
	assert.Equal(t, "$5 off", applied[1].Rule.Title)
	assert.True(t, d("150").Equal(applied[1].Applied))
}

func TestCouponAndDiscountItemLevel(t *testing.T) {
	rules := []Rule{
		percentRule(1, "10% off", "0.10"),
		amountRule(2, "$10 off each item", "10", withCode("TENDOLLARSOFF")),
	}

	assert.True(t, d("300").Equal(calc(rules, megaCart(), "TENDOLLARSOFF")))
	assert.True(t, d("81").Equal(calc(rules, megaCart(), "")), "no coupon in context")
	assert.True(t, d("81").Equal(calc(rules, megaCart(), "tendollarsoff")), "codes match exactly")
}

func TestItemAndCartLevelAmountDiscounts(t *testing.T) {
	rules := []Rule{
		amountRule(1, "$400 savings", "400", cartOnly),
		amountRule(2, "$500 off baby!", "500", itemsOnly),
	}

	res := NewCalculator(rules, megaCart(), Context{Now: fixedAt}).Run()
	assert.True(t, d("810").Equal(res.Total), "total shouldn't exceed what is possible")
	assert.True(t, d("810").Equal(res.Base))

	// The stacked cart saving gives back first.
	require.Len(t, res.Contributions, 2)
	assert.True(t, d("400").Equal(res.Contributions[0].Amount))
	assert.True(t, res.Contributions[0].Applied.IsZero())
	assert.True(t, d("810").Equal(res.Contributions[1].Applied))
}

func TestCartLevelAmount(t *testing.T) {
	r := amountRule(1, "$25 off cart total", "25", cartOnly)
	require.NoError(t, r.ValidateOrder(cart(), Context{Now: fixedAt}))

	assert.True(t, d("8").Equal(calc([]Rule{r}, cart(), "")))
	assert.True(t, d("25").Equal(calc([]Rule{r}, otherCart(), "")))
	assert.True(t, d("25").Equal(calc([]Rule{r}, megaCart(), "")))
}

func TestCartLevelPercent(t *testing.T) {
	r := percentRule(1, "50% off products subtotal", "0.5", cartOnly, withProducts("socks", "tshirt"))

	assert.True(t, d("4").Equal(calc([]Rule{r}, cart(), "")))
	assert.True(t, d("205").Equal(calc([]Rule{r}, megaCart(), "")))
	assert.True(t, calc([]Rule{r}, otherCart(), "").IsZero(), "restricted products absent")
}

func TestCategoryRestrictedItemDiscount(t *testing.T) {
	r := percentRule(1, "electronics 10%", "0.1", itemsOnly, withCategories("electronics"))

	res := NewCalculator([]Rule{r}, megaCart(), Context{Now: fixedAt}).Run()
	assert.True(t, d("40").Equal(res.Total))
	require.Len(t, res.Lines, 3)
	assert.Empty(t, res.Lines[0].Info.Adjustments(), "socks are not electronics")
	assert.True(t, d("20").Equal(res.Lines[2].Info.BestDiscount()))
}

func TestMaxAmount(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{
			name: "percent item discount",
			rule: percentRule(1, "$200 max Discount", "0.8", itemsOnly, withMax("200")),
			want: "200",
		},
		{
			name: "amount item discount",
			rule: amountRule(2, "$20 max Discount (using amount)", "10", itemsOnly, withMax("20")),
			want: "20",
		},
		{
			name: "percent cart discount",
			rule: percentRule(3, "40 max Discount", "0.8", cartOnly, withMax("40")),
			want: "40",
		},
		{
			name: "cap above aggregate is inert",
			rule: percentRule(4, "10% capped at 100", "0.1", itemsOnly, withMax("100")),
			want: "81",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewCalculator([]Rule{tt.rule}, megaCart(), Context{Now: fixedAt}).Run()
			assert.True(t, d(tt.want).Equal(res.Total), "expected %s, got %s", tt.want, res.Total)
		})
	}
}

func TestMaxAmount_AggregateNotPerEntity(t *testing.T) {
	// Per item the $10 cap is never reached (8, 10, 10 per unit), yet the
	// aggregate over 32 units is clamped.
	r := amountRule(1, "$10 each, $30 total", "10", itemsOnly, withMax("30"))

	res := NewCalculator([]Rule{r}, megaCart(), Context{Now: fixedAt}).Run()
	require.Len(t, res.Contributions, 1)
	assert.True(t, d("280").Equal(res.Contributions[0].Items))
	assert.True(t, res.Contributions[0].Capped)
	assert.True(t, d("30").Equal(res.Total))
}

func TestShippingDiscount(t *testing.T) {
	o := cart()
	o.Shipping = d("12")

	rules := []Rule{
		amountRule(1, "$5 off shipping", "5", shippingOnly),
		percentRule(2, "free shipping", "1", shippingOnly),
	}
	res := NewCalculator(rules, o, Context{Now: fixedAt}).Run()
	assert.True(t, d("12").Equal(res.Total), "single winner against shipping")
	assert.True(t, d("20").Equal(res.Base))
	assert.True(t, d("12").Equal(res.Shipping.BestDiscount()))

	// Without a shipping rule the shipping cost is not discountable.
	res = NewCalculator([]Rule{amountRule(3, "$50 off cart", "50", cartOnly)}, o, Context{Now: fixedAt}).Run()
	assert.True(t, d("8").Equal(res.Base))
	assert.True(t, d("8").Equal(res.Total))
}

func TestShippingStacksWithItems(t *testing.T) {
	o := cart()
	o.Shipping = d("10")

	r := percentRule(1, "everything is free", "1", func(r *Rule) { r.ForShipping = true })
	res := NewCalculator([]Rule{r}, o, Context{Now: fixedAt}).Run()
	assert.True(t, d("18").Equal(res.Total))
	require.Len(t, res.Contributions, 1)
	assert.True(t, d("8").Equal(res.Contributions[0].Items))
	assert.True(t, d("10").Equal(res.Contributions[0].Shipping))
}

func TestPartialUseDiscount(t *testing.T) {
	r := amountRule(1, "gift voucher", "100", cartOnly, withCode("GIFTCARD01"), withBalance("30"))
	assert.Equal(t, KindPartialUse, r.Kind())

	c := NewCalculator([]Rule{r}, megaCart(), Context{CouponCode: "GIFTCARD01", Now: fixedAt})
	res := c.Run()
	assert.True(t, d("30").Equal(res.Total), "capped at the remaining balance")

	reds := res.Redemptions()
	require.Len(t, reds, 1)
	assert.Equal(t, int64(1), reds[0].RuleID)
	assert.Equal(t, "GIFTCARD01", reds[0].Code)
	assert.True(t, reds[0].DecrementBalance)
	assert.True(t, d("30").Equal(reds[0].Amount))

	// Calculation never consumes the balance.
	assert.True(t, d("30").Equal(c.Run().Total))

	r.Balance.Remaining = decimal.Zero
	assert.ErrorIs(t, r.ValidateOrder(megaCart(), Context{CouponCode: "GIFTCARD01", Now: fixedAt}), ErrBalanceExhausted)
	assert.True(t, calc([]Rule{r}, megaCart(), "GIFTCARD01").IsZero())
}

func TestCalculate_Idempotent(t *testing.T) {
	rules := []Rule{
		percentRule(1, "10% off", "0.10"),
		amountRule(2, "$5 off", "5"),
		amountRule(3, "$25 off cart", "25", cartOnly),
	}
	c := NewCalculator(rules, megaCart(), Context{Now: fixedAt})

	first := c.Calculate()
	second := c.Calculate()
	assert.True(t, first.Equal(second))
	assert.True(t, d("215").Equal(first))
}

func TestCalculate_MisconfiguredRuleRefused(t *testing.T) {
	rules := []Rule{
		percentRule(1, "broken", "1.5"),
		amountRule(2, "$5 off", "5"),
	}
	res := NewCalculator(rules, cart(), Context{Now: fixedAt}).Run()

	assert.True(t, d("5").Equal(res.Total))
	var invalid *InvalidRulesError
	require.ErrorAs(t, res.Invalid, &invalid)
	require.Len(t, invalid.Errs, 1)
	assert.Equal(t, int64(1), invalid.Errs[0].RuleID)
	assert.Equal(t, ReasonInvalidPercent, FailureReason(res.Invalid))
}

func TestDistinctLinesMergeSameProduct(t *testing.T) {
	o := Order{Items: []Item{qty(socks, 2), qty(tshirt, 1), qty(socks, 3)}}
	r := amountRule(1, "$5 off", "5", itemsOnly)

	res := NewCalculator([]Rule{r}, o, Context{Now: fixedAt}).Run()
	require.Len(t, res.Lines, 2)
	assert.Equal(t, 5, res.Lines[0].Item.Quantity)
	assert.True(t, d("30").Equal(res.Total))
}
