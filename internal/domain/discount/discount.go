package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates how a rule computes its value.
type Type string

const (
	// TypePercent reduces the base by a fraction of it.
	TypePercent Type = "percent"
	// TypeAmount reduces the base by a fixed amount, capped at the base.
	TypeAmount Type = "amount"
)

// Kind identifies the rule variant.
type Kind string

const (
	// KindOrder rules apply automatically to every eligible order.
	KindOrder Kind = "order"
	// KindCoupon rules apply only when the matching code is supplied.
	KindCoupon Kind = "coupon"
	// KindPartialUse rules carry a stored balance consumed across orders.
	KindPartialUse Kind = "partial_use"
)

// ErrNotFound is returned by a Store when no rule matches the lookup.
var ErrNotFound = errors.New("discount not found")

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Coupon gates a rule behind a redemption code.
type Coupon struct {
	Code string
}

// Balance is the stored value left on a partial-use rule.
type Balance struct {
	Remaining decimal.Decimal
}

// Rule is a configured discount policy. Rules are read-only during
// calculation; Uses and Balance are snapshots of externally owned counters.
type Rule struct {
	ID    int64
	Title string
	Type  Type
	// Percent is a fraction in [0, 1].
	Percent decimal.Decimal
	Amount  decimal.Decimal
	// MaxAmount caps the rule's aggregate contribution. Zero means no cap.
	MaxAmount decimal.Decimal

	ForItems    bool
	ForCart     bool
	ForShipping bool

	Active    bool
	StartDate *time.Time
	EndDate   *time.Time
	// MinOrderValue is the minimum order subtotal. Zero means no minimum.
	MinOrderValue decimal.Decimal
	ProductIDs    []string
	CategoryIDs   []string
	// UseLimit caps redemptions. Zero means unlimited.
	UseLimit  int
	Uses      int
	CreatedAt time.Time

	Coupon  *Coupon
	Balance *Balance
}

// NewRule returns an active rule scoped to items and cart, the defaults a
// freshly created discount record carries.
func NewRule(title string, typ Type) Rule {
	return Rule{
		Title:    title,
		Type:     typ,
		Active:   true,
		ForItems: true,
		ForCart:  true,
	}
}

// Kind reports the rule variant.
func (r *Rule) Kind() Kind {
	switch {
	case r.Balance != nil:
		return KindPartialUse
	case r.Coupon != nil:
		return KindCoupon
	default:
		return KindOrder
	}
}

// Code returns the coupon code, or an empty string for automatic rules.
func (r *Rule) Code() string {
	if r.Coupon == nil {
		return ""
	}
	return r.Coupon.Code
}

// Restricted reports whether the rule only applies to a subset of products.
func (r *Rule) Restricted() bool {
	return len(r.ProductIDs) > 0 || len(r.CategoryIDs) > 0
}

// AppliesTo reports whether the item falls inside the rule's product or
// category association. Unrestricted rules apply to every item.
func (r *Rule) AppliesTo(it Item) bool {
	if !r.Restricted() {
		return true
	}
	for _, id := range r.ProductIDs {
		if id == it.ProductID {
			return true
		}
	}
	for _, id := range r.CategoryIDs {
		if id != "" && id == it.CategoryID {
			return true
		}
	}
	return false
}

// DiscountValue computes the raw reduction for the given base. Amount rules
// never exceed the base. MaxAmount is not applied here.
func (r *Rule) DiscountValue(base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return zero
	}
	switch r.Type {
	case TypePercent:
		return floorAtZero(base.Mul(r.Percent))
	case TypeAmount:
		return floorAtZero(decimal.Min(r.Amount, base))
	default:
		return zero
	}
}

// String returns a short label such as "10% off" or "$5 off".
func (r *Rule) String() string {
	if r.Type == TypePercent {
		return r.Percent.Mul(hundred).String() + "% off"
	}
	return "$" + r.Amount.StringFixed(2) + " off"
}

// Store provides access to discount records owned by the surrounding system.
type Store interface {
	// ListActive returns a snapshot of all active rules.
	ListActive(ctx context.Context) ([]Rule, error)
	// FindByCode returns the coupon rule with the exact code, or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// Redeem commits the redemptions of a placed order, re-validating limits.
	Redeem(ctx context.Context, orderID string, rs []Redemption) error
}

// Ledger reports the savings recorded by committed redemptions.
type Ledger interface {
	SavingsTotal(ctx context.Context, id int64) (decimal.Decimal, error)
	SavingsForOrder(ctx context.Context, id int64, orderID string) (decimal.Decimal, error)
}

// Invalidator is implemented by stores that keep a cached copy of the active
// rules.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// CodeStore is the part of a Store needed to issue unique coupon codes.
type CodeStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	ListCodes(ctx context.Context) ([]string, error)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
