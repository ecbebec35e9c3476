package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Check reports a *ConfigError when the rule definition is internally
// inconsistent. minCodeLength is the shortest coupon code accepted; zero
// disables the length check.
func (r *Rule) Check(minCodeLength int) error {
	if cerr := r.configError(minCodeLength); cerr != nil {
		return cerr
	}
	return nil
}

func (r *Rule) configError(minCodeLength int) *ConfigError {
	fail := func(reason Reason, detail string) *ConfigError {
		return &ConfigError{RuleID: r.ID, Title: r.Title, Reason: reason, Detail: detail}
	}

	switch r.Type {
	case TypePercent:
		if r.Percent.IsNegative() || r.Percent.GreaterThan(one) {
			return fail(ReasonInvalidPercent, "percent "+r.Percent.String()+" outside [0, 1]")
		}
	case TypeAmount:
		if r.Amount.IsNegative() {
			return fail(ReasonInvalidAmount, "negative amount "+r.Amount.String())
		}
	default:
		return fail(ReasonInvalidType, "unsupported type "+string(r.Type))
	}
	if r.MaxAmount.IsNegative() {
		return fail(ReasonInvalidMaxAmount, "negative max amount "+r.MaxAmount.String())
	}
	if r.MinOrderValue.IsNegative() {
		return fail(ReasonInvalidMinimumSum, "negative minimum order value")
	}
	if r.UseLimit < 0 {
		return fail(ReasonInvalidUseLimit, "negative use limit")
	}
	if !r.ForItems && !r.ForCart && !r.ForShipping {
		return fail(ReasonNoScope, "rule applies to neither items, cart nor shipping")
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return fail(ReasonInvalidWindow, "end date before start date")
	}
	if r.Coupon != nil {
		if r.Coupon.Code == "" {
			return fail(ReasonInvalidCode, "coupon without code")
		}
		if minCodeLength > 0 && len(r.Coupon.Code) < minCodeLength {
			return fail(ReasonInvalidMinLength, "code shorter than minimum length")
		}
	}
	if r.Balance != nil {
		if r.Type != TypeAmount {
			return fail(ReasonPartialUseAmount, "partial use discounts must be amount typed")
		}
		if r.Balance.Remaining.IsNegative() {
			return fail(ReasonInvalidBalance, "negative remaining balance")
		}
	}
	return nil
}

// ValidateOrder checks the rule's eligibility constraints against the order
// and context. It returns nil when the rule applies, a *ValidationError
// sentinel when it legitimately does not, or a *ConfigError when the rule
// definition itself is broken. The clock is used when rc.Now is zero.
func (r *Rule) ValidateOrder(o Order, rc Context) error {
	if err := r.Check(0); err != nil {
		return err
	}
	return r.eligible(o, rc, evaluationTime(rc, time.Now))
}

// Match reports whether the rule is eligible for the order.
func (r *Rule) Match(o Order, rc Context) bool {
	return r.ValidateOrder(o, rc) == nil
}

func (r *Rule) eligible(o Order, rc Context, now time.Time) error {
	if !r.Active {
		return ErrInactive
	}
	if r.StartDate != nil && now.Before(*r.StartDate) {
		return ErrNotStarted
	}
	if r.EndDate != nil && now.After(*r.EndDate) {
		return ErrExpired
	}
	if r.Coupon != nil {
		if rc.CouponCode == "" {
			return ErrCodeRequired
		}
		if rc.CouponCode != r.Coupon.Code {
			return ErrCodeMismatch
		}
	}
	if r.MinOrderValue.IsPositive() && o.Subtotal().LessThan(r.MinOrderValue) {
		return ErrMinimumSpendUnmet
	}
	if r.UseLimit > 0 && r.Uses >= r.UseLimit {
		return ErrUsageLimitReached
	}
	if r.Balance != nil && !r.Balance.Remaining.IsPositive() {
		return ErrBalanceExhausted
	}
	return nil
}

func evaluationTime(rc Context, clock func() time.Time) time.Time {
	if !rc.Now.IsZero() {
		return rc.Now
	}
	return clock()
}
